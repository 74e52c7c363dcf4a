package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CarePingHQ/CarePing/internal/messaging"
	"github.com/CarePingHQ/CarePing/internal/metrics"
	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/store"
)

// DefaultTimeFormat renders the appointment time in reminder messages.
const DefaultTimeFormat = "Monday, 2 January 2006 at 15:04"

// AdapterOpts holds configuration options for the delivery adapter.
type AdapterOpts struct {
	Location   *time.Location
	TimeFormat string
}

// AdapterOption defines a configuration option for the delivery adapter.
type AdapterOption func(*AdapterOpts)

// WithLocation sets the timezone appointment times are rendered in.
func WithLocation(loc *time.Location) AdapterOption {
	return func(o *AdapterOpts) { o.Location = loc }
}

// WithTimeFormat sets the layout appointment times are rendered with.
func WithTimeFormat(layout string) AdapterOption {
	return func(o *AdapterOpts) { o.TimeFormat = layout }
}

// Adapter composes and sends the patient- and practitioner-facing messages
// for a due reminder.
//
// Contract: per-recipient send failures are captured in the recipient's
// SendStatus and never returned as an error; only attempt-level failures
// (catalog lookup, missing template) make Deliver fail.
type Adapter struct {
	catalog    Catalog
	channel    messaging.Service
	store      store.Store
	location   *time.Location
	timeFormat string
}

// NewAdapter creates a delivery adapter over the given catalog, channel, and
// store.
func NewAdapter(catalog Catalog, channel messaging.Service, st store.Store, opts ...AdapterOption) *Adapter {
	cfg := AdapterOpts{Location: time.Local, TimeFormat: DefaultTimeFormat}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Adapter{
		catalog:    catalog,
		channel:    channel,
		store:      st,
		location:   cfg.Location,
		timeFormat: cfg.TimeFormat,
	}
}

// recipient pairs a user with the role and counterpart used to compose their
// message variables.
type recipient struct {
	user        models.User
	role        models.ParticipantRole
	counterpart string
}

// Deliver resolves the reminder's template, sends it to every recipient with
// a phone number, and records the delivery bookkeeping on the reminder row.
func (a *Adapter) Deliver(ctx context.Context, due models.DueReminder) (models.DeliveryResult, error) {
	start := time.Now()
	templateKey := due.Reminder.Type.TemplateKey()
	result := models.DeliveryResult{TemplateKey: templateKey}

	tmpl, err := a.catalog.GetProcessedTemplate(ctx, templateKey)
	if err != nil {
		metrics.RecordDeliveryDuration("error", time.Since(start))
		return result, fmt.Errorf("resolve template %s: %w", templateKey, err)
	}
	result.TemplateSID = tmpl.SID

	appointmentTime := ""
	if due.Consultation.ScheduledDate != nil {
		appointmentTime = due.Consultation.ScheduledDate.In(a.location).Format(a.timeFormat)
	}

	var recipients []recipient
	if patient, ok := due.Consultation.Patient(); ok && patient.Phone != "" {
		recipients = append(recipients, recipient{user: patient, role: models.RolePatient, counterpart: due.Consultation.Owner.Name})
	}
	if owner := due.Consultation.Owner; owner.Phone != "" {
		counterpart := ""
		if patient, ok := due.Consultation.Patient(); ok {
			counterpart = patient.Name
		}
		recipients = append(recipients, recipient{user: owner, role: models.RolePractitioner, counterpart: counterpart})
	}

	for _, rec := range recipients {
		variables := map[string]string{
			"recipient_name":   rec.user.Name,
			"counterpart_name": rec.counterpart,
			"appointment_time": appointmentTime,
		}

		rr := models.RecipientResult{Role: rec.role, To: rec.user.Phone}
		status, err := a.channel.SendTemplateMessage(ctx, rec.user.Phone, *tmpl, variables)
		if err != nil {
			// Recorded, not raised: one bad recipient must not fail the
			// reminder or block the other recipient.
			slog.Error("Adapter.Deliver: recipient send failed", "reminder", due.Reminder.ID, "role", rec.role, "error", err)
			rr.Failed = true
			rr.SendStatus = "failed: " + err.Error()
			metrics.IncrementRecipientSend(string(rec.role), "failed")
		} else {
			if status == "" {
				status = "sent"
			}
			rr.SendStatus = status
			metrics.IncrementRecipientSend(string(rec.role), status)
		}
		result.Recipients = append(result.Recipients, rr)
	}

	// Bookkeeping write is attributed to the reminder unconditionally. A
	// failure here is logged but does not fail the delivery: the messages
	// are already out.
	if err := a.store.UpdateReminderDeliveryMeta(due.Reminder.ID, templateKey, tmpl.SID, result.SendStatus()); err != nil {
		slog.Error("Adapter.Deliver: failed to record delivery meta", "reminder", due.Reminder.ID, "error", err)
	}

	metrics.RecordDeliveryDuration("ok", time.Since(start))
	slog.Debug("Adapter.Deliver: delivery complete", "reminder", due.Reminder.ID, "templateKey", templateKey, "recipients", len(result.Recipients), "sendStatus", result.SendStatus())
	return result, nil
}
