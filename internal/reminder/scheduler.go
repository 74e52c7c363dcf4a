// Package reminder implements the consultation reminder engine: the
// scheduler invoked by the booking workflow, the due-reminder poller, and
// the per-reminder processor state machine.
package reminder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/store"
)

// Scheduler computes and persists the future reminder jobs for a
// consultation. It runs synchronously inside the consultation
// create/reschedule/cancel flows and propagates storage errors to them.
type Scheduler struct {
	store store.Store
	now   func() time.Time
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(st store.Store) *Scheduler {
	return &Scheduler{store: st, now: time.Now}
}

// ScheduleReminders cancels any outstanding pending reminders for the
// consultation and creates one pending reminder per type whose fire time is
// still in the future. Safe to call on every create and reschedule. When no
// types are given the default set (24h, 1h) is used.
func (s *Scheduler) ScheduleReminders(consultationID string, scheduledDate time.Time, types ...models.ReminderType) error {
	if consultationID == "" {
		return fmt.Errorf("consultation ID is required")
	}
	if len(types) == 0 {
		types = models.DefaultReminderTypes
	}
	for _, typ := range types {
		if err := typ.Validate(); err != nil {
			return err
		}
	}

	// Cancel first, unconditionally: a reschedule must never leave two
	// pending reminders of the same type.
	cancelled, err := s.store.CancelPendingReminders(consultationID)
	if err != nil {
		return fmt.Errorf("cancel outstanding reminders for %s: %w", consultationID, err)
	}

	now := s.now()
	if !scheduledDate.After(now) {
		slog.Info("Scheduler.ScheduleReminders: scheduled date not in the future, no reminders created",
			"consultation", consultationID, "scheduledDate", scheduledDate, "cancelled", cancelled)
		return nil
	}

	created := 0
	for _, typ := range types {
		offset, _ := typ.Offset()
		fireTime := scheduledDate.Add(-offset)
		if !fireTime.After(now) {
			slog.Debug("Scheduler.ScheduleReminders: reminder window already passed, skipping type",
				"consultation", consultationID, "type", typ, "fireTime", fireTime)
			continue
		}
		if _, err := s.store.CreateReminder(consultationID, typ, fireTime); err != nil {
			return fmt.Errorf("create %s reminder for %s: %w", typ, consultationID, err)
		}
		created++
	}

	slog.Info("Scheduler.ScheduleReminders: reminders scheduled",
		"consultation", consultationID, "scheduledDate", scheduledDate, "created", created, "cancelled", cancelled)
	return nil
}

// CancelReminders bulk-cancels all pending reminders for the consultation.
// Idempotent: a second call matches no rows and is a no-op.
func (s *Scheduler) CancelReminders(consultationID string) error {
	if consultationID == "" {
		return fmt.Errorf("consultation ID is required")
	}
	cancelled, err := s.store.CancelPendingReminders(consultationID)
	if err != nil {
		return fmt.Errorf("cancel reminders for %s: %w", consultationID, err)
	}
	slog.Info("Scheduler.CancelReminders: pending reminders cancelled", "consultation", consultationID, "cancelled", cancelled)
	return nil
}
