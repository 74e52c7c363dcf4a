package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/CarePingHQ/CarePing/internal/metrics"
	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/store"
)

// Poller configuration defaults. The interval is a tunable, not a
// correctness constant: a reminder is picked up on the first tick at or
// after its fire time.
const (
	DefaultPollInterval    = time.Minute
	DefaultClaimLimit      = 50
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultStaleThreshold  = 5 * time.Minute
)

// PollerOpts holds configuration options for the poller.
type PollerOpts struct {
	Interval        time.Duration
	ClaimLimit      int
	DeliveryTimeout time.Duration
	StaleThreshold  time.Duration
}

// PollerOption defines a configuration option for the poller.
type PollerOption func(*PollerOpts)

// WithInterval sets the tick interval for Run.
func WithInterval(d time.Duration) PollerOption {
	return func(o *PollerOpts) { o.Interval = d }
}

// WithClaimLimit caps how many due reminders one tick claims.
func WithClaimLimit(n int) PollerOption {
	return func(o *PollerOpts) { o.ClaimLimit = n }
}

// WithDeliveryTimeout bounds each reminder's processing time so one slow
// delivery cannot stall the whole tick.
func WithDeliveryTimeout(d time.Duration) PollerOption {
	return func(o *PollerOpts) { o.DeliveryTimeout = d }
}

// WithStaleThreshold sets how long an in-progress lease may be held before
// the reminder is requeued.
func WithStaleThreshold(d time.Duration) PollerOption {
	return func(o *PollerOpts) { o.StaleThreshold = d }
}

// Poller periodically claims due reminders and hands them to the processor
// one at a time. It never returns an error: a failed claim ends the tick and
// is retried on the next one, and a failure processing one reminder never
// prevents the rest of the batch from being attempted.
type Poller struct {
	store           store.Store
	processor       *Processor
	interval        time.Duration
	claimLimit      int
	deliveryTimeout time.Duration
	staleThreshold  time.Duration
}

// NewPoller creates a poller over the given store and processor.
func NewPoller(st store.Store, processor *Processor, opts ...PollerOption) *Poller {
	cfg := PollerOpts{
		Interval:        DefaultPollInterval,
		ClaimLimit:      DefaultClaimLimit,
		DeliveryTimeout: DefaultDeliveryTimeout,
		StaleThreshold:  DefaultStaleThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Poller{
		store:           st,
		processor:       processor,
		interval:        cfg.Interval,
		claimLimit:      cfg.ClaimLimit,
		deliveryTimeout: cfg.DeliveryTimeout,
		staleThreshold:  cfg.StaleThreshold,
	}
}

// Interval returns the configured tick interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// RecoverStaleReminders requeues reminders whose lease expired (e.g. the
// process crashed mid-delivery). Called at startup and on each tick.
func (p *Poller) RecoverStaleReminders() error {
	staleBefore := time.Now().Add(-p.staleThreshold)
	n, err := p.store.RequeueStaleReminders(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Poller.RecoverStaleReminders: requeued stale reminders", "count", n)
	}
	return nil
}

// Run drives Poll on a fixed ticker until the context is cancelled. When the
// cron facility is used instead, it invokes Poll directly.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("Poller.Run: starting due-reminder poller", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Poller.Run: stopping")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll executes one tick: claim due reminders with their consultation graph
// and process them sequentially and independently.
func (p *Poller) Poll(ctx context.Context) {
	if err := p.RecoverStaleReminders(); err != nil {
		slog.Error("Poller.Poll: stale recovery failed", "error", err)
	}

	now := time.Now()
	due, err := p.store.ClaimDueReminders(now, p.claimLimit)
	if err != nil {
		slog.Error("Poller.Poll: due-reminder claim failed, ending tick", "error", err)
		return
	}
	metrics.RecordPollBatchSize(len(due))
	if len(due) == 0 {
		return
	}
	slog.Debug("Poller.Poll: processing due reminders", "count", len(due))

	for _, d := range due {
		p.processOne(ctx, d)
	}
}

// processOne isolates a single reminder: its own timeout, its own panic
// recovery, its own error logging. No reminder's outcome depends on
// another's.
func (p *Poller) processOne(ctx context.Context, due models.DueReminder) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Poller.processOne: panic while processing reminder", "reminder", due.Reminder.ID, "panic", r)
		}
	}()

	procCtx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()

	if err := p.processor.Process(procCtx, due); err != nil {
		slog.Error("Poller.processOne: processing failed", "reminder", due.Reminder.ID, "error", err)
	}
}
