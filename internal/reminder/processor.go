package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CarePingHQ/CarePing/internal/metrics"
	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/store"
)

// DeliveryAdapter is the delivery collaborator invoked for eligible due
// reminders. An error means the attempt itself did not run (missing
// template, catalog failure); per-recipient outcomes live in the result.
type DeliveryAdapter interface {
	Deliver(ctx context.Context, due models.DueReminder) (models.DeliveryResult, error)
}

// Processor drives one claimed due reminder through the
// pending -> {sent, failed, cancelled} state machine.
type Processor struct {
	store   store.Store
	adapter DeliveryAdapter
	now     func() time.Time
}

// NewProcessor creates a processor over the given store and delivery adapter.
func NewProcessor(st store.Store, adapter DeliveryAdapter) *Processor {
	return &Processor{store: st, adapter: adapter, now: time.Now}
}

// Process revalidates the consultation, invokes delivery, and records the
// terminal outcome. The returned error covers only storage failures while
// recording the outcome; a delivery failure is itself an outcome (failed)
// and does not propagate.
func (p *Processor) Process(ctx context.Context, due models.DueReminder) error {
	r := due.Reminder
	c := due.Consultation

	// The appointment may have been cancelled, completed, or cleared since
	// this reminder was scheduled; sending now would be wrong.
	if c.Status != models.ConsultationStatusScheduled {
		slog.Info("Processor.Process: consultation no longer eligible, cancelling reminder",
			"reminder", r.ID, "consultation", c.ID, "consultationStatus", c.Status)
		if err := p.store.MarkReminderCancelled(r.ID); err != nil {
			return fmt.Errorf("cancel ineligible reminder %s: %w", r.ID, err)
		}
		metrics.IncrementReminderProcessed("cancelled")
		return nil
	}

	if c.ScheduledDate == nil {
		slog.Info("Processor.Process: consultation has no scheduled date, cancelling reminder",
			"reminder", r.ID, "consultation", c.ID)
		if err := p.store.MarkReminderCancelled(r.ID); err != nil {
			return fmt.Errorf("cancel dateless reminder %s: %w", r.ID, err)
		}
		metrics.IncrementReminderProcessed("cancelled")
		return nil
	}

	result, err := p.adapter.Deliver(ctx, due)
	if err != nil {
		slog.Error("Processor.Process: delivery failed", "reminder", r.ID, "consultation", c.ID, "error", err)
		if markErr := p.store.MarkReminderFailed(r.ID, err.Error()); markErr != nil {
			return fmt.Errorf("record delivery failure for %s: %w", r.ID, markErr)
		}
		metrics.IncrementReminderProcessed("failed")
		return nil
	}

	sentAt := p.now()
	if err := p.store.MarkReminderSent(r.ID, sentAt); err != nil {
		return fmt.Errorf("record sent reminder %s: %w", r.ID, err)
	}
	metrics.IncrementReminderProcessed("sent")
	slog.Info("Processor.Process: reminder sent",
		"reminder", r.ID, "consultation", c.ID, "type", r.Type, "sendStatus", result.SendStatus())
	return nil
}
