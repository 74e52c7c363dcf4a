// Package models defines the core data structures for CarePing.
//
// It contains the reminder and consultation domain types shared across the
// store, scheduler, poller, processor, and delivery modules.
package models

import (
	"fmt"
	"time"
)

// ReminderType identifies how far before the consultation a reminder fires.
type ReminderType string

const (
	ReminderType24Hour ReminderType = "24_hours_before"
	ReminderType1Hour  ReminderType = "1_hour_before"
)

// reminderOffsets maps each reminder type to its fixed offset before the
// consultation's scheduled time. New types only need an entry here and,
// optionally, in reminderTemplateKeys.
var reminderOffsets = map[ReminderType]time.Duration{
	ReminderType24Hour: 24 * time.Hour,
	ReminderType1Hour:  time.Hour,
}

// TemplateKeyGeneric is the fallback template key for reminder types without
// a dedicated template.
const TemplateKeyGeneric = "consultation_reminder_generic"

var reminderTemplateKeys = map[ReminderType]string{
	ReminderType24Hour: "consultation_reminder_24h",
	ReminderType1Hour:  "consultation_reminder_1h",
}

// DefaultReminderTypes is the shipped set scheduled for every consultation.
var DefaultReminderTypes = []ReminderType{ReminderType24Hour, ReminderType1Hour}

// Offset returns the duration before the consultation's scheduled time at
// which this reminder type fires, and whether the type is known.
func (t ReminderType) Offset() (time.Duration, bool) {
	d, ok := reminderOffsets[t]
	return d, ok
}

// TemplateKey maps the reminder type to its message template key, falling
// back to the generic key for unrecognized types.
func (t ReminderType) TemplateKey() string {
	if key, ok := reminderTemplateKeys[t]; ok {
		return key
	}
	return TemplateKeyGeneric
}

// Validate checks that the reminder type has a registered offset.
func (t ReminderType) Validate() error {
	if _, ok := reminderOffsets[t]; !ok {
		return fmt.Errorf("unknown reminder type: %s", t)
	}
	return nil
}

// ReminderStatus represents the lifecycle state of a reminder.
type ReminderStatus string

const (
	ReminderStatusPending ReminderStatus = "pending"
	// ReminderStatusInProgress marks a claimed reminder while the processor
	// holds its lease. It is the only non-terminal state besides pending.
	ReminderStatusInProgress ReminderStatus = "in_progress"
	ReminderStatusSent       ReminderStatus = "sent"
	ReminderStatusFailed     ReminderStatus = "failed"
	ReminderStatusCancelled  ReminderStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ReminderStatus) IsTerminal() bool {
	switch s {
	case ReminderStatusSent, ReminderStatusFailed, ReminderStatusCancelled:
		return true
	}
	return false
}

// Reminder is one scheduled notification attempt tied to one consultation
// and one reminder type. Rows are never deleted; terminal rows are the
// permanent audit record.
type Reminder struct {
	ID             string         `json:"id"`
	ConsultationID string         `json:"consultation_id"`
	Type           ReminderType   `json:"type"`
	ScheduledFor   time.Time      `json:"scheduled_for"`
	Status         ReminderStatus `json:"status"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	TemplateKey    string         `json:"template_key,omitempty"`
	TemplateSID    string         `json:"template_sid,omitempty"`
	SendStatus     string         `json:"send_status,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	LockedAt       *time.Time     `json:"locked_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ConsultationStatus represents the state of a consultation. Only scheduled
// consultations are reminder-eligible.
type ConsultationStatus string

const (
	ConsultationStatusScheduled ConsultationStatus = "scheduled"
	ConsultationStatusCompleted ConsultationStatus = "completed"
	ConsultationStatusCancelled ConsultationStatus = "cancelled"
	ConsultationStatusNoShow    ConsultationStatus = "no_show"
)

// ParticipantRole identifies a participant's role in a consultation.
type ParticipantRole string

const (
	RolePatient      ParticipantRole = "patient"
	RolePractitioner ParticipantRole = "practitioner"
)

// User is a platform user referenced by consultations.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Participant links a user to a consultation with a role.
type Participant struct {
	User User            `json:"user"`
	Role ParticipantRole `json:"role"`
}

// Consultation is the appointment a reminder belongs to. The engine reads it
// for eligibility and recipients and writes only the remindersSent ledger.
type Consultation struct {
	ID            string                     `json:"id"`
	Status        ConsultationStatus         `json:"status"`
	ScheduledDate *time.Time                 `json:"scheduled_date,omitempty"`
	Owner         User                       `json:"owner"`
	Participants  []Participant              `json:"participants,omitempty"`
	RemindersSent map[ReminderType]time.Time `json:"reminders_sent,omitempty"`
}

// Patient returns the patient participant's user, if present.
func (c Consultation) Patient() (User, bool) {
	for _, p := range c.Participants {
		if p.Role == RolePatient {
			return p.User, true
		}
	}
	return User{}, false
}

// DueReminder is a claimed due reminder together with the consultation graph
// the processor needs, loaded in the due-set query so processing issues no
// further reads.
type DueReminder struct {
	Reminder     Reminder     `json:"reminder"`
	Consultation Consultation `json:"consultation"`
}

// Template is a processed message template resolved from the catalog.
// Variables holds placeholder names in substitution order; the delivery
// adapter supplies the values.
type Template struct {
	SID       string   `json:"sid"`
	Body      string   `json:"body"`
	Variables []string `json:"variables,omitempty"`
}

// RecipientResult records the outcome of one recipient's send attempt.
// Transport failures land here as a failed SendStatus and never escalate
// past the delivery adapter.
type RecipientResult struct {
	Role       ParticipantRole `json:"role"`
	To         string          `json:"to"`
	SendStatus string          `json:"send_status"`
	Failed     bool            `json:"failed"`
}

// DeliveryResult is the adapter-level outcome of a delivery attempt: the
// template that was used plus each recipient's individual result.
type DeliveryResult struct {
	TemplateKey string            `json:"template_key"`
	TemplateSID string            `json:"template_sid"`
	Recipients  []RecipientResult `json:"recipients"`
}

// SendStatus flattens the per-recipient outcomes into the reminder row's
// send_status bookkeeping field.
func (r DeliveryResult) SendStatus() string {
	if len(r.Recipients) == 0 {
		return "no_recipients"
	}
	out := ""
	for i, rec := range r.Recipients {
		if i > 0 {
			out += ";"
		}
		out += string(rec.Role) + "=" + rec.SendStatus
	}
	return out
}

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	StatusOK    APIStatus = "ok"
	StatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope returned by the HTTP API.
type APIResponse struct {
	Status APIStatus   `json:"status"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// Success builds an ok response wrapping the given result.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: StatusOK, Result: result}
}

// Error builds an error response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: StatusError, Error: message}
}
