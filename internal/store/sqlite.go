// Package store provides storage backends for CarePing.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveConsultation(c models.Consultation) error {
	owner, participants, remindersSent, err := encodeConsultation(c)
	if err != nil {
		return err
	}
	now := time.Now()
	var scheduledDate interface{}
	if c.ScheduledDate != nil {
		scheduledDate = *c.ScheduledDate
	}
	_, err = s.db.Exec(
		`INSERT INTO consultations (id, status, scheduled_date, owner_json, participants_json, reminders_sent_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, scheduled_date = excluded.scheduled_date,
		 owner_json = excluded.owner_json, participants_json = excluded.participants_json,
		 reminders_sent_json = excluded.reminders_sent_json, updated_at = excluded.updated_at`,
		c.ID, c.Status, scheduledDate, owner, participants, remindersSent, now, now,
	)
	if err != nil {
		return fmt.Errorf("save consultation %s failed: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore.SaveConsultation", "id", c.ID, "status", c.Status)
	return nil
}

func (s *SQLiteStore) GetConsultation(id string) (*models.Consultation, error) {
	row := s.db.QueryRow(`SELECT `+consultationColumns+` FROM consultations WHERE id = ?`, id)
	c, err := scanConsultation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation %s failed: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetRemindersSent(consultationID string) (map[models.ReminderType]time.Time, error) {
	c, err := s.GetConsultation(consultationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("consultation not found: %s", consultationID)
	}
	if c.RemindersSent == nil {
		return map[models.ReminderType]time.Time{}, nil
	}
	return c.RemindersSent, nil
}

func (s *SQLiteStore) SetRemindersSent(consultationID string, sent map[models.ReminderType]time.Time) error {
	encoded, err := encodeRemindersSent(sent)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE consultations SET reminders_sent_json = ?, updated_at = ? WHERE id = ?`,
		encoded, time.Now(), consultationID,
	)
	if err != nil {
		return fmt.Errorf("set reminders_sent for %s failed: %w", consultationID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("consultation not found: %s", consultationID)
	}
	return nil
}

func (s *SQLiteStore) CreateReminder(consultationID string, typ models.ReminderType, scheduledFor time.Time) (string, error) {
	id := util.GenerateReminderID()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO reminders (id, consultation_id, type, scheduled_for, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		id, consultationID, typ, scheduledFor, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create reminder failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateReminder", "id", id, "consultation", consultationID, "type", typ, "scheduledFor", scheduledFor)
	return id, nil
}

func (s *SQLiteStore) CancelPendingReminders(consultationID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'cancelled', updated_at = ? WHERE consultation_id = ? AND status = 'pending'`,
		time.Now(), consultationID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Debug("SQLiteStore.CancelPendingReminders", "consultation", consultationID, "cancelled", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) ClaimDueReminders(now time.Time, limit int) ([]models.DueReminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE status = 'pending' AND scheduled_for <= ? ORDER BY scheduled_for ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due reminders query failed: %w", err)
	}
	defer rows.Close()

	var due []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due reminder failed: %w", err)
		}
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("due reminders iteration failed: %w", err)
	}

	var claimed []models.DueReminder
	for _, r := range due {
		// Conditional update so a row claimed by a concurrent instance is
		// skipped rather than double-processed.
		result, err := s.db.Exec(
			`UPDATE reminders SET status = 'in_progress', locked_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
			now, now, r.ID,
		)
		if err != nil {
			return claimed, fmt.Errorf("claim reminder %s failed: %w", r.ID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}
		r.Status = models.ReminderStatusInProgress
		lockedAt := now
		r.LockedAt = &lockedAt

		c, err := s.GetConsultation(r.ConsultationID)
		if err != nil {
			return claimed, err
		}
		var consultation models.Consultation
		if c != nil {
			consultation = *c
		}
		claimed = append(claimed, models.DueReminder{Reminder: r, Consultation: consultation})
	}
	return claimed, nil
}

func (s *SQLiteStore) MarkReminderSent(id string, sentAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mark sent begin failed: %w", err)
	}
	defer tx.Rollback()

	var consultationID string
	var typ models.ReminderType
	err = tx.QueryRow(
		`SELECT consultation_id, type FROM reminders WHERE id = ? AND status IN ('pending', 'in_progress')`, id,
	).Scan(&consultationID, &typ)
	if err == sql.ErrNoRows {
		return fmt.Errorf("reminder %s not found or already terminal", id)
	}
	if err != nil {
		return fmt.Errorf("mark sent lookup failed: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE reminders SET status = 'sent', sent_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		sentAt, sentAt, id,
	)
	if err != nil {
		return fmt.Errorf("mark sent update failed: %w", err)
	}

	// Ledger write rides the same transaction as the status flip so the two
	// records of "this reminder fired" cannot diverge.
	var sentJSON sql.NullString
	if err := tx.QueryRow(`SELECT reminders_sent_json FROM consultations WHERE id = ?`, consultationID).Scan(&sentJSON); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("mark sent ledger read failed: %w", err)
	}
	sent := map[models.ReminderType]time.Time{}
	if sentJSON.String != "" {
		if err := decodeRemindersSent(sentJSON.String, &sent); err != nil {
			return err
		}
	}
	sent[typ] = sentAt
	encoded, err := encodeRemindersSent(sent)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE consultations SET reminders_sent_json = ?, updated_at = ? WHERE id = ?`,
		encoded, sentAt, consultationID,
	)
	if err != nil {
		return fmt.Errorf("mark sent ledger write failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark sent commit failed: %w", err)
	}
	slog.Debug("SQLiteStore.MarkReminderSent", "id", id, "consultation", consultationID, "type", typ)
	return nil
}

func (s *SQLiteStore) MarkReminderFailed(id string, reason string) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'failed', last_error = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'in_progress')`,
		nilIfEmpty(reason), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark failed update failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found or already terminal", id)
	}
	return nil
}

func (s *SQLiteStore) MarkReminderCancelled(id string) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'cancelled', locked_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'in_progress')`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark cancelled update failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found or already terminal", id)
	}
	return nil
}

func (s *SQLiteStore) UpdateReminderDeliveryMeta(id, templateKey, templateSID, sendStatus string) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET template_key = ?, template_sid = ?, send_status = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(templateKey), nilIfEmpty(templateSID), nilIfEmpty(sendStatus), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("update delivery meta failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleReminders(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', locked_at = NULL, updated_at = ? WHERE status = 'in_progress' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleReminders", "requeued", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) GetReminder(id string) (*models.Reminder, error) {
	row := s.db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %s failed: %w", id, err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListReminders(consultationID string) ([]models.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE consultation_id = ? ORDER BY created_at ASC`,
		consultationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminders query failed: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder row failed: %w", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reminders iteration failed: %w", err)
	}
	return reminders, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
