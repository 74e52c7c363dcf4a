// Package store provides storage backends for CarePing.
//
// It persists consultations and their reminder rows, and implements the
// due-reminder claim used by the poller. SQLite and PostgreSQL backends share
// one interface; an in-memory store backs tests and log-only deployments.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/util"
)

// Store is the persistence interface consumed by the scheduler, poller, and
// processor.
type Store interface {
	// SaveConsultation inserts or replaces a consultation record.
	SaveConsultation(c models.Consultation) error

	// GetConsultation retrieves a consultation by ID, or nil if absent.
	GetConsultation(id string) (*models.Consultation, error)

	// GetRemindersSent returns the consultation's remindersSent ledger.
	GetRemindersSent(consultationID string) (map[models.ReminderType]time.Time, error)

	// SetRemindersSent replaces the consultation's remindersSent ledger.
	SetRemindersSent(consultationID string, sent map[models.ReminderType]time.Time) error

	// CreateReminder inserts a new pending reminder and returns its ID.
	CreateReminder(consultationID string, typ models.ReminderType, scheduledFor time.Time) (string, error)

	// CancelPendingReminders bulk-updates all pending reminders for the
	// consultation to cancelled and returns how many rows changed. A second
	// call is a no-op.
	CancelPendingReminders(consultationID string) (int, error)

	// ClaimDueReminders atomically moves up to limit pending reminders with
	// scheduled_for <= now into in_progress and returns them joined with
	// their consultation graph. A reminder claimed by one caller is never
	// returned to another.
	ClaimDueReminders(now time.Time, limit int) ([]models.DueReminder, error)

	// MarkReminderSent transitions a claimed reminder to sent and records the
	// send in the consultation's remindersSent ledger in the same operation.
	MarkReminderSent(id string, sentAt time.Time) error

	// MarkReminderFailed transitions a claimed reminder to failed.
	MarkReminderFailed(id string, reason string) error

	// MarkReminderCancelled transitions a pending or claimed reminder to
	// cancelled.
	MarkReminderCancelled(id string) error

	// UpdateReminderDeliveryMeta records which template and channel attempt
	// was used for a reminder and the provider-reported outcome.
	UpdateReminderDeliveryMeta(id, templateKey, templateSID, sendStatus string) error

	// RequeueStaleReminders resets reminders stuck in_progress since before
	// staleBefore back to pending (crash recovery / expired lease).
	RequeueStaleReminders(staleBefore time.Time) (int, error)

	// GetReminder retrieves a single reminder by ID, or nil if absent.
	GetReminder(id string) (*models.Reminder, error)

	// ListReminders returns all reminders for a consultation, oldest first.
	ListReminders(consultationID string) ([]models.Reminder, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// otherwise (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a mutex-guarded in-memory Store used by tests and
// log-only deployments.
type InMemoryStore struct {
	mu            sync.Mutex
	consultations map[string]models.Consultation
	reminders     map[string]models.Reminder
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		consultations: make(map[string]models.Consultation),
		reminders:     make(map[string]models.Reminder),
	}
}

func (s *InMemoryStore) SaveConsultation(c models.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consultations[c.ID] = c
	return nil
}

func (s *InMemoryStore) GetConsultation(id string) (*models.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) GetRemindersSent(consultationID string) (map[models.ReminderType]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[consultationID]
	if !ok {
		return nil, fmt.Errorf("consultation not found: %s", consultationID)
	}
	sent := make(map[models.ReminderType]time.Time, len(c.RemindersSent))
	for k, v := range c.RemindersSent {
		sent[k] = v
	}
	return sent, nil
}

func (s *InMemoryStore) SetRemindersSent(consultationID string, sent map[models.ReminderType]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[consultationID]
	if !ok {
		return fmt.Errorf("consultation not found: %s", consultationID)
	}
	c.RemindersSent = sent
	s.consultations[consultationID] = c
	return nil
}

func (s *InMemoryStore) CreateReminder(consultationID string, typ models.ReminderType, scheduledFor time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	id := util.GenerateReminderID()
	s.reminders[id] = models.Reminder{
		ID:             id,
		ConsultationID: consultationID,
		Type:           typ,
		ScheduledFor:   scheduledFor,
		Status:         models.ReminderStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return id, nil
}

func (s *InMemoryStore) CancelPendingReminders(consultationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.ConsultationID == consultationID && r.Status == models.ReminderStatusPending {
			r.Status = models.ReminderStatusCancelled
			r.UpdatedAt = time.Now()
			s.reminders[id] = r
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ClaimDueReminders(now time.Time, limit int) ([]models.DueReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderStatusPending && !r.ScheduledFor.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]models.DueReminder, 0, len(due))
	for _, r := range due {
		lockedAt := now
		r.Status = models.ReminderStatusInProgress
		r.LockedAt = &lockedAt
		r.UpdatedAt = now
		s.reminders[r.ID] = r
		claimed = append(claimed, models.DueReminder{
			Reminder:     r,
			Consultation: s.consultations[r.ConsultationID],
		})
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkReminderSent(id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder not found: %s", id)
	}
	if r.Status.IsTerminal() {
		return fmt.Errorf("reminder %s already terminal: %s", id, r.Status)
	}
	r.Status = models.ReminderStatusSent
	r.SentAt = &sentAt
	r.LockedAt = nil
	r.UpdatedAt = sentAt
	s.reminders[id] = r

	c, ok := s.consultations[r.ConsultationID]
	if ok {
		if c.RemindersSent == nil {
			c.RemindersSent = make(map[models.ReminderType]time.Time)
		}
		c.RemindersSent[r.Type] = sentAt
		s.consultations[r.ConsultationID] = c
	}
	return nil
}

func (s *InMemoryStore) MarkReminderFailed(id string, reason string) error {
	return s.transition(id, models.ReminderStatusFailed, reason)
}

func (s *InMemoryStore) MarkReminderCancelled(id string) error {
	return s.transition(id, models.ReminderStatusCancelled, "")
}

func (s *InMemoryStore) transition(id string, status models.ReminderStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder not found: %s", id)
	}
	if r.Status.IsTerminal() {
		return fmt.Errorf("reminder %s already terminal: %s", id, r.Status)
	}
	r.Status = status
	r.LastError = reason
	r.LockedAt = nil
	r.UpdatedAt = time.Now()
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) UpdateReminderDeliveryMeta(id, templateKey, templateSID, sendStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder not found: %s", id)
	}
	r.TemplateKey = templateKey
	r.TemplateSID = templateSID
	r.SendStatus = sendStatus
	r.UpdatedAt = time.Now()
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) RequeueStaleReminders(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.Status == models.ReminderStatusInProgress && r.LockedAt != nil && r.LockedAt.Before(staleBefore) {
			r.Status = models.ReminderStatusPending
			r.LockedAt = nil
			r.UpdatedAt = time.Now()
			s.reminders[id] = r
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetReminder(id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) ListReminders(consultationID string) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reminder
	for _, r := range s.reminders {
		if r.ConsultationID == consultationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
