package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
)

// prefixColumns qualifies each column in a comma-separated list with a table
// alias, for queries that join or RETURN from an aliased table.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// reminderColumns is the column list shared by every reminder select.
const reminderColumns = `id, consultation_id, type, scheduled_for, status, sent_at, template_key, template_sid, send_status, last_error, locked_at, created_at, updated_at`

// scanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanReminder scans a reminder row in reminderColumns order.
func scanReminder(sc scanner) (models.Reminder, error) {
	var r models.Reminder
	var templateKey, templateSID, sendStatus, lastError sql.NullString
	var sentAt, lockedAt sql.NullTime
	err := sc.Scan(
		&r.ID, &r.ConsultationID, &r.Type, &r.ScheduledFor, &r.Status,
		&sentAt, &templateKey, &templateSID, &sendStatus, &lastError, &lockedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.TemplateKey = templateKey.String
	r.TemplateSID = templateSID.String
	r.SendStatus = sendStatus.String
	r.LastError = lastError.String
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	if lockedAt.Valid {
		r.LockedAt = &lockedAt.Time
	}
	return r, nil
}

// consultationColumns is the column list shared by every consultation select.
const consultationColumns = `id, status, scheduled_date, owner_json, participants_json, reminders_sent_json`

// scanConsultation scans a consultation row in consultationColumns order,
// decoding the owner, participants, and remindersSent JSON columns.
func scanConsultation(sc scanner) (models.Consultation, error) {
	var c models.Consultation
	var scheduledDate sql.NullTime
	var ownerJSON, participantsJSON, remindersSentJSON sql.NullString
	err := sc.Scan(&c.ID, &c.Status, &scheduledDate, &ownerJSON, &participantsJSON, &remindersSentJSON)
	if err != nil {
		return c, err
	}
	if scheduledDate.Valid {
		c.ScheduledDate = &scheduledDate.Time
	}
	if ownerJSON.String != "" {
		if err := json.Unmarshal([]byte(ownerJSON.String), &c.Owner); err != nil {
			return c, fmt.Errorf("decode owner for consultation %s: %w", c.ID, err)
		}
	}
	if participantsJSON.String != "" {
		if err := json.Unmarshal([]byte(participantsJSON.String), &c.Participants); err != nil {
			return c, fmt.Errorf("decode participants for consultation %s: %w", c.ID, err)
		}
	}
	if remindersSentJSON.String != "" {
		if err := json.Unmarshal([]byte(remindersSentJSON.String), &c.RemindersSent); err != nil {
			return c, fmt.Errorf("decode reminders_sent for consultation %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// encodeConsultation marshals the consultation's JSON columns for insert.
func encodeConsultation(c models.Consultation) (owner, participants, remindersSent string, err error) {
	ownerBytes, err := json.Marshal(c.Owner)
	if err != nil {
		return "", "", "", fmt.Errorf("encode owner: %w", err)
	}
	if c.Participants == nil {
		c.Participants = []models.Participant{}
	}
	participantBytes, err := json.Marshal(c.Participants)
	if err != nil {
		return "", "", "", fmt.Errorf("encode participants: %w", err)
	}
	if c.RemindersSent == nil {
		c.RemindersSent = map[models.ReminderType]time.Time{}
	}
	sentBytes, err := json.Marshal(c.RemindersSent)
	if err != nil {
		return "", "", "", fmt.Errorf("encode reminders_sent: %w", err)
	}
	return string(ownerBytes), string(participantBytes), string(sentBytes), nil
}

// decodeRemindersSent unmarshals a reminders_sent_json column value.
func decodeRemindersSent(raw string, sent *map[models.ReminderType]time.Time) error {
	if err := json.Unmarshal([]byte(raw), sent); err != nil {
		return fmt.Errorf("decode reminders_sent: %w", err)
	}
	return nil
}

// encodeRemindersSent marshals a ledger map for the reminders_sent_json column.
func encodeRemindersSent(sent map[models.ReminderType]time.Time) (string, error) {
	if sent == nil {
		sent = map[models.ReminderType]time.Time{}
	}
	b, err := json.Marshal(sent)
	if err != nil {
		return "", fmt.Errorf("encode reminders_sent: %w", err)
	}
	return string(b), nil
}
