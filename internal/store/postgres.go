// Package store provides storage backends for CarePing.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveConsultation(c models.Consultation) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, scheduled_date = EXCLUDED.scheduled_date,
		 owner_json = EXCLUDED.owner_json, participants_json = EXCLUDED.participants_json,
		 reminders_sent_json = EXCLUDED.reminders_sent_json, updated_at = EXCLUDED.updated_at`,
		c.ID, c.Status, scheduledDate, owner, participants, remindersSent, now, now,
	)
	if err != nil {
		return fmt.Errorf("save consultation %s failed: %w", c.ID, err)
	}
	slog.Debug("PostgresStore.SaveConsultation", "id", c.ID, "status", c.Status)
	return nil
}

func (s *PostgresStore) GetConsultation(id string) (*models.Consultation, error) {
	row := s.db.QueryRow(`SELECT `+consultationColumns+` FROM consultations WHERE id = $1`, id)
	c, err := scanConsultation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation %s failed: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetRemindersSent(consultationID string) (map[models.ReminderType]time.Time, error) {
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

func (s *PostgresStore) SetRemindersSent(consultationID string, sent map[models.ReminderType]time.Time) error {
	encoded, err := encodeRemindersSent(sent)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE consultations SET reminders_sent_json = $1, updated_at = $2 WHERE id = $3`,
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

func (s *PostgresStore) CreateReminder(consultationID string, typ models.ReminderType, scheduledFor time.Time) (string, error) {
	id := util.GenerateReminderID()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO reminders (id, consultation_id, type, scheduled_for, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6)`,
		id, consultationID, typ, scheduledFor, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create reminder failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateReminder", "id", id, "consultation", consultationID, "type", typ, "scheduledFor", scheduledFor)
	return id, nil
}

func (s *PostgresStore) CancelPendingReminders(consultationID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'cancelled', updated_at = $1 WHERE consultation_id = $2 AND status = 'pending'`,
		time.Now(), consultationID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Debug("PostgresStore.CancelPendingReminders", "consultation", consultationID, "cancelled", n)
	}
	return int(n), nil
}

func (s *PostgresStore) ClaimDueReminders(now time.Time, limit int) ([]models.DueReminder, error) {
	// SKIP LOCKED keeps concurrent poller instances from selecting the same
	// rows; the status flip inside the CTE is the claim.
	rows, err := s.db.Query(
		`WITH claimed AS (
			SELECT id FROM reminders
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY scheduled_for ASC LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reminders r SET status = 'in_progress', locked_at = $1, updated_at = $1
		FROM claimed WHERE r.id = claimed.id
		RETURNING `+prefixColumns("r", reminderColumns),
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due reminders failed: %w", err)
	}
	defer rows.Close()

	var claimedReminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed reminder failed: %w", err)
		}
		claimedReminders = append(claimedReminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due reminders iteration failed: %w", err)
	}

	var due []models.DueReminder
	for _, r := range claimedReminders {
		c, err := s.GetConsultation(r.ConsultationID)
		if err != nil {
			return due, err
		}
		var consultation models.Consultation
		if c != nil {
			consultation = *c
		}
		due = append(due, models.DueReminder{Reminder: r, Consultation: consultation})
	}
	return due, nil
}

func (s *PostgresStore) MarkReminderSent(id string, sentAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mark sent begin failed: %w", err)
	}
	defer tx.Rollback()

	var consultationID string
	var typ models.ReminderType
	err = tx.QueryRow(
		`SELECT consultation_id, type FROM reminders WHERE id = $1 AND status IN ('pending', 'in_progress') FOR UPDATE`, id,
	).Scan(&consultationID, &typ)
	if err == sql.ErrNoRows {
		return fmt.Errorf("reminder %s not found or already terminal", id)
	}
	if err != nil {
		return fmt.Errorf("mark sent lookup failed: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE reminders SET status = 'sent', sent_at = $1, locked_at = NULL, updated_at = $1 WHERE id = $2`,
		sentAt, id,
	)
	if err != nil {
		return fmt.Errorf("mark sent update failed: %w", err)
	}

	// Ledger write rides the same transaction as the status flip.
	_, err = tx.Exec(
		`UPDATE consultations
		 SET reminders_sent_json = reminders_sent_json || jsonb_build_object($1::text, to_jsonb($2::timestamptz)),
		     updated_at = $2
		 WHERE id = $3`,
		string(typ), sentAt, consultationID,
	)
	if err != nil {
		return fmt.Errorf("mark sent ledger write failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark sent commit failed: %w", err)
	}
	slog.Debug("PostgresStore.MarkReminderSent", "id", id, "consultation", consultationID, "type", typ)
	return nil
}

func (s *PostgresStore) MarkReminderFailed(id string, reason string) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'failed', last_error = $1, locked_at = NULL, updated_at = $2
		 WHERE id = $3 AND status IN ('pending', 'in_progress')`,
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

func (s *PostgresStore) MarkReminderCancelled(id string) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'cancelled', locked_at = NULL, updated_at = $1
		 WHERE id = $2 AND status IN ('pending', 'in_progress')`,
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

func (s *PostgresStore) UpdateReminderDeliveryMeta(id, templateKey, templateSID, sendStatus string) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET template_key = $1, template_sid = $2, send_status = $3, updated_at = $4 WHERE id = $5`,
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

func (s *PostgresStore) RequeueStaleReminders(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', locked_at = NULL, updated_at = $1 WHERE status = 'in_progress' AND locked_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale reminders failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleReminders", "requeued", n)
	}
	return int(n), nil
}

func (s *PostgresStore) GetReminder(id string) (*models.Reminder, error) {
	row := s.db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %s failed: %w", id, err)
	}
	return &r, nil
}

func (s *PostgresStore) ListReminders(consultationID string) ([]models.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE consultation_id = $1 ORDER BY created_at ASC`,
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
