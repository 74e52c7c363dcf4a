package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/store"
	"github.com/CarePingHQ/CarePing/internal/testutil"
)

// failingClaimStore wraps a store and fails every due-reminder claim.
type failingClaimStore struct {
	store.Store
}

func (s *failingClaimStore) ClaimDueReminders(time.Time, int) ([]models.DueReminder, error) {
	return nil, errors.New("database gone away")
}

// flakyAdapter fails delivery for one reminder ID and succeeds for the rest.
type flakyAdapter struct {
	failID    string
	panicID   string
	delivered []string
}

func (a *flakyAdapter) Deliver(_ context.Context, due models.DueReminder) (models.DeliveryResult, error) {
	a.delivered = append(a.delivered, due.Reminder.ID)
	switch due.Reminder.ID {
	case a.failID:
		return models.DeliveryResult{}, errors.New("provider rejected message")
	case a.panicID:
		panic("template renderer blew up")
	}
	return models.DeliveryResult{
		Recipients: []models.RecipientResult{{Role: models.RolePatient, SendStatus: "queued"}},
	}, nil
}

func TestPollProcessesDueBatch(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	testutil.SeedConsultation(t, st, testutil.NewConsultation("cons_batch", now.Add(time.Hour)))

	var ids []string
	for _, typ := range models.DefaultReminderTypes {
		id, err := st.CreateReminder("cons_batch", typ, now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("CreateReminder failed: %v", err)
		}
		ids = append(ids, id)
	}

	adapter := &flakyAdapter{}
	p := NewPoller(st, NewProcessor(st, adapter))
	p.Poll(context.Background())

	if len(adapter.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(adapter.delivered))
	}
	for _, id := range ids {
		testutil.AssertReminderStatus(t, st, id, models.ReminderStatusSent)
	}

	// Nothing left to claim.
	adapter.delivered = nil
	p.Poll(context.Background())
	if len(adapter.delivered) != 0 {
		t.Errorf("expected empty second tick, got %d deliveries", len(adapter.delivered))
	}
}

func TestPollIsolatesFailures(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	testutil.SeedConsultation(t, st, testutil.NewConsultation("cons_iso", now.Add(time.Hour)))

	badID, err := st.CreateReminder("cons_iso", models.ReminderType24Hour, now.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	goodID, err := st.CreateReminder("cons_iso", models.ReminderType1Hour, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}

	adapter := &flakyAdapter{failID: badID}
	p := NewPoller(st, NewProcessor(st, adapter))
	p.Poll(context.Background())

	// The failed reminder lands in failed; the rest of the batch still goes out.
	testutil.AssertReminderStatus(t, st, badID, models.ReminderStatusFailed)
	testutil.AssertReminderStatus(t, st, goodID, models.ReminderStatusSent)
}

func TestPollSurvivesAdapterPanic(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	testutil.SeedConsultation(t, st, testutil.NewConsultation("cons_panic", now.Add(time.Hour)))

	panicID, err := st.CreateReminder("cons_panic", models.ReminderType24Hour, now.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	goodID, err := st.CreateReminder("cons_panic", models.ReminderType1Hour, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}

	adapter := &flakyAdapter{panicID: panicID}
	p := NewPoller(st, NewProcessor(st, adapter))
	p.Poll(context.Background())

	testutil.AssertReminderStatus(t, st, goodID, models.ReminderStatusSent)
	// The panicked reminder keeps its lease and is recovered once it goes stale.
	testutil.AssertReminderStatus(t, st, panicID, models.ReminderStatusInProgress)
}

func TestPollClaimFailureEndsTick(t *testing.T) {
	st := store.NewInMemoryStore()
	adapter := &flakyAdapter{}
	p := NewPoller(&failingClaimStore{Store: st}, NewProcessor(st, adapter))

	// Must not panic or deliver anything.
	p.Poll(context.Background())
	if len(adapter.delivered) != 0 {
		t.Errorf("expected no deliveries after claim failure, got %d", len(adapter.delivered))
	}
}

func TestPollRecoversStaleLeases(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	testutil.SeedConsultation(t, st, testutil.NewConsultation("cons_lease", now.Add(time.Hour)))
	id, err := st.CreateReminder("cons_lease", models.ReminderType1Hour, now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}

	// Simulate a crashed instance holding an expired lease.
	if _, err := st.ClaimDueReminders(now.Add(-6*time.Minute), 50); err != nil {
		t.Fatalf("ClaimDueReminders failed: %v", err)
	}

	adapter := &flakyAdapter{}
	p := NewPoller(st, NewProcessor(st, adapter), WithStaleThreshold(5*time.Minute))
	p.Poll(context.Background())

	// Stale recovery runs before the claim, so the reminder is requeued and
	// processed in the same tick.
	testutil.AssertReminderStatus(t, st, id, models.ReminderStatusSent)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := store.NewInMemoryStore()
	p := NewPoller(st, NewProcessor(st, &flakyAdapter{}), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestNewPollerDefaults(t *testing.T) {
	st := store.NewInMemoryStore()
	p := NewPoller(st, NewProcessor(st, &flakyAdapter{}))
	if p.Interval() != DefaultPollInterval {
		t.Errorf("expected default interval %v, got %v", DefaultPollInterval, p.Interval())
	}

	p = NewPoller(st, NewProcessor(st, &flakyAdapter{}), WithInterval(-time.Second))
	if p.Interval() != DefaultPollInterval {
		t.Errorf("expected non-positive interval to fall back to default, got %v", p.Interval())
	}
}
