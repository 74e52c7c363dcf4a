package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/store"
	"github.com/CarePingHQ/CarePing/internal/testutil"
)

// recordedSend captures one SendTemplateMessage call.
type recordedSend struct {
	To        string
	Template  models.Template
	Variables map[string]string
}

// fakeChannel is a messaging.Service test double. Numbers in FailNumbers get
// a send error; everything else reports "queued".
type fakeChannel struct {
	Sends       []recordedSend
	FailNumbers map[string]error
	stopped     bool
}

func (c *fakeChannel) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (c *fakeChannel) SendTemplateMessage(_ context.Context, to string, tmpl models.Template, variables map[string]string) (string, error) {
	c.Sends = append(c.Sends, recordedSend{To: to, Template: tmpl, Variables: variables})
	if err, ok := c.FailNumbers[to]; ok {
		return "", err
	}
	return "queued", nil
}

func (c *fakeChannel) Start(ctx context.Context) error { return nil }
func (c *fakeChannel) Stop() error                     { c.stopped = true; return nil }

func newDueReminder(t *testing.T, st store.Store, consultationID string, scheduledDate time.Time) models.DueReminder {
	t.Helper()
	now := time.Now()
	if _, err := st.CreateReminder(consultationID, models.ReminderType24Hour, now.Add(-time.Minute)); err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
	claimed, err := st.ClaimDueReminders(now, 1)
	if err != nil {
		t.Fatalf("ClaimDueReminders failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed reminder, got %d", len(claimed))
	}
	return claimed[0]
}

func TestDeliverSendsToBothParticipants(t *testing.T) {
	st := store.NewInMemoryStore()
	scheduledDate := time.Date(2026, 9, 14, 10, 30, 0, 0, time.UTC)
	testutil.SeedConsultation(t, st, testutil.NewConsultation("cons_d", scheduledDate))
	due := newDueReminder(t, st, "cons_d", scheduledDate)

	channel := &fakeChannel{}
	a := NewAdapter(NewStaticCatalog(DefaultTemplates()), channel, st, WithLocation(time.UTC))

	result, err := a.Deliver(context.Background(), due)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if result.TemplateKey != "consultation_reminder_24h" {
		t.Errorf("expected 24h template key, got %s", result.TemplateKey)
	}
	if result.TemplateSID != "static_reminder_24h" {
		t.Errorf("expected static 24h SID, got %s", result.TemplateSID)
	}
	if len(channel.Sends) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(channel.Sends))
	}

	// Patient first, practitioner second.
	patientSend := channel.Sends[0]
	if patientSend.To != "+15550200" {
		t.Errorf("expected patient number first, got %s", patientSend.To)
	}
	if patientSend.Variables["recipient_name"] != "Maya Lindqvist" {
		t.Errorf("unexpected patient recipient_name: %s", patientSend.Variables["recipient_name"])
	}
	if patientSend.Variables["counterpart_name"] != "Dr. Osei" {
		t.Errorf("unexpected patient counterpart_name: %s", patientSend.Variables["counterpart_name"])
	}
	if !strings.Contains(patientSend.Variables["appointment_time"], "14 September 2026") {
		t.Errorf("unexpected appointment_time: %s", patientSend.Variables["appointment_time"])
	}

	practitionerSend := channel.Sends[1]
	if practitionerSend.To != "+15550100" {
		t.Errorf("expected practitioner number second, got %s", practitionerSend.To)
	}
	if practitionerSend.Variables["counterpart_name"] != "Maya Lindqvist" {
		t.Errorf("unexpected practitioner counterpart_name: %s", practitionerSend.Variables["counterpart_name"])
	}

	if got := result.SendStatus(); got != "patient=queued;practitioner=queued" {
		t.Errorf("unexpected aggregate send status: %s", got)
	}

	// Bookkeeping lands on the reminder row.
	r, err := st.GetReminder(due.Reminder.ID)
	if err != nil {
		t.Fatalf("GetReminder failed: %v", err)
	}
	if r.TemplateKey != "consultation_reminder_24h" || r.TemplateSID != "static_reminder_24h" {
		t.Errorf("unexpected recorded meta: key=%s sid=%s", r.TemplateKey, r.TemplateSID)
	}
	if r.SendStatus != "patient=queued;practitioner=queued" {
		t.Errorf("unexpected recorded send status: %s", r.SendStatus)
	}
}

func TestDeliverSkipsRecipientsWithoutPhone(t *testing.T) {
	st := store.NewInMemoryStore()
	scheduledDate := time.Now().Add(time.Hour)
	c := testutil.NewConsultation("cons_nophone", scheduledDate)
	c.Owner.Phone = ""
	testutil.SeedConsultation(t, st, c)
	due := newDueReminder(t, st, "cons_nophone", scheduledDate)

	channel := &fakeChannel{}
	a := NewAdapter(NewStaticCatalog(DefaultTemplates()), channel, st)

	result, err := a.Deliver(context.Background(), due)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(channel.Sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(channel.Sends))
	}
	if result.Recipients[0].Role != models.RolePatient {
		t.Errorf("expected patient recipient, got %s", result.Recipients[0].Role)
	}
}

func TestDeliverNoRecipients(t *testing.T) {
	st := store.NewInMemoryStore()
	scheduledDate := time.Now().Add(time.Hour)
	c := testutil.NewConsultation("cons_empty", scheduledDate)
	c.Owner.Phone = ""
	c.Participants = nil
	testutil.SeedConsultation(t, st, c)
	due := newDueReminder(t, st, "cons_empty", scheduledDate)

	channel := &fakeChannel{}
	a := NewAdapter(NewStaticCatalog(DefaultTemplates()), channel, st)

	result, err := a.Deliver(context.Background(), due)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(channel.Sends) != 0 {
		t.Errorf("expected no sends, got %d", len(channel.Sends))
	}
	if got := result.SendStatus(); got != "no_recipients" {
		t.Errorf("expected no_recipients, got %s", got)
	}
}

func TestDeliverRecipientFailureIsNotRaised(t *testing.T) {
	st := store.NewInMemoryStore()
	scheduledDate := time.Now().Add(time.Hour)
	testutil.SeedConsultation(t, st, testutil.NewConsultation("cons_partial", scheduledDate))
	due := newDueReminder(t, st, "cons_partial", scheduledDate)

	channel := &fakeChannel{FailNumbers: map[string]error{
		"+15550200": errors.New("unreachable destination"),
	}}
	a := NewAdapter(NewStaticCatalog(DefaultTemplates()), channel, st)

	result, err := a.Deliver(context.Background(), due)
	if err != nil {
		t.Fatalf("Deliver returned error for recipient failure: %v", err)
	}
	if len(result.Recipients) != 2 {
		t.Fatalf("expected 2 recipient results, got %d", len(result.Recipients))
	}
	if !result.Recipients[0].Failed {
		t.Error("expected patient result flagged failed")
	}
	if !strings.HasPrefix(result.Recipients[0].SendStatus, "failed:") {
		t.Errorf("expected failed send status, got %s", result.Recipients[0].SendStatus)
	}
	if result.Recipients[1].Failed {
		t.Error("expected practitioner send to succeed")
	}

	r, _ := st.GetReminder(due.Reminder.ID)
	if !strings.Contains(r.SendStatus, "patient=failed: unreachable destination") {
		t.Errorf("expected failure recorded in send status, got %s", r.SendStatus)
	}
}

func TestDeliverMissingTemplateFails(t *testing.T) {
	st := store.NewInMemoryStore()
	scheduledDate := time.Now().Add(time.Hour)
	testutil.SeedConsultation(t, st, testutil.NewConsultation("cons_notmpl", scheduledDate))
	due := newDueReminder(t, st, "cons_notmpl", scheduledDate)

	channel := &fakeChannel{}
	a := NewAdapter(NewStaticCatalog(map[string]models.Template{}), channel, st)

	_, err := a.Deliver(context.Background(), due)
	if err == nil {
		t.Fatal("expected error for missing template")
	}
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
	if len(channel.Sends) != 0 {
		t.Errorf("expected no sends, got %d", len(channel.Sends))
	}
}
