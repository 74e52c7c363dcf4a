package models

import (
	"testing"
	"time"
)

func TestReminderTypeOffset(t *testing.T) {
	tests := []struct {
		typ    ReminderType
		want   time.Duration
		wantOK bool
	}{
		{ReminderType24Hour, 24 * time.Hour, true},
		{ReminderType1Hour, time.Hour, true},
		{ReminderType("2_weeks_before"), 0, false},
	}
	for _, tc := range tests {
		got, ok := tc.typ.Offset()
		if ok != tc.wantOK {
			t.Errorf("Offset(%s): expected ok=%v, got %v", tc.typ, tc.wantOK, ok)
		}
		if got != tc.want {
			t.Errorf("Offset(%s): expected %v, got %v", tc.typ, tc.want, got)
		}
	}
}

func TestReminderTypeTemplateKey(t *testing.T) {
	if key := ReminderType24Hour.TemplateKey(); key != "consultation_reminder_24h" {
		t.Errorf("expected consultation_reminder_24h, got %s", key)
	}
	if key := ReminderType1Hour.TemplateKey(); key != "consultation_reminder_1h" {
		t.Errorf("expected consultation_reminder_1h, got %s", key)
	}
	if key := ReminderType("2_weeks_before").TemplateKey(); key != TemplateKeyGeneric {
		t.Errorf("expected generic fallback key, got %s", key)
	}
}

func TestReminderTypeValidate(t *testing.T) {
	for _, typ := range DefaultReminderTypes {
		if err := typ.Validate(); err != nil {
			t.Errorf("expected %s to validate, got %v", typ, err)
		}
	}
	if err := ReminderType("bogus").Validate(); err == nil {
		t.Error("expected error for unknown reminder type")
	}
}

func TestReminderStatusIsTerminal(t *testing.T) {
	terminal := []ReminderStatus{ReminderStatusSent, ReminderStatusFailed, ReminderStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []ReminderStatus{ReminderStatusPending, ReminderStatusInProgress} {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestConsultationPatient(t *testing.T) {
	c := Consultation{
		Owner: User{ID: "prac-1", Name: "Dr. Osei"},
		Participants: []Participant{
			{User: User{ID: "obs-1", Name: "Observer"}, Role: RolePractitioner},
			{User: User{ID: "pat-1", Name: "Maya"}, Role: RolePatient},
		},
	}
	patient, ok := c.Patient()
	if !ok {
		t.Fatal("expected a patient participant")
	}
	if patient.ID != "pat-1" {
		t.Errorf("expected pat-1, got %s", patient.ID)
	}

	empty := Consultation{Owner: User{ID: "prac-1"}}
	if _, ok := empty.Patient(); ok {
		t.Error("expected no patient on consultation without participants")
	}
}

func TestDeliveryResultSendStatus(t *testing.T) {
	empty := DeliveryResult{}
	if got := empty.SendStatus(); got != "no_recipients" {
		t.Errorf("expected no_recipients, got %s", got)
	}

	mixed := DeliveryResult{
		Recipients: []RecipientResult{
			{Role: RolePatient, SendStatus: "queued"},
			{Role: RolePractitioner, SendStatus: "failed: timeout", Failed: true},
		},
	}
	want := "patient=queued;practitioner=failed: timeout"
	if got := mixed.SendStatus(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]string{"id": "rem_1"})
	if ok.Status != StatusOK {
		t.Errorf("expected ok status, got %s", ok.Status)
	}
	if ok.Error != "" {
		t.Errorf("expected empty error, got %s", ok.Error)
	}

	fail := Error("boom")
	if fail.Status != StatusError {
		t.Errorf("expected error status, got %s", fail.Status)
	}
	if fail.Error != "boom" {
		t.Errorf("expected boom, got %s", fail.Error)
	}
}
