package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// Store is a SQLite implementation of the session journal and the feedback
// outbox.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ ports.JournalStore   = (*Store)(nil)
	_ ports.FeedbackOutbox = (*Store)(nil)
)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			appointment_id TEXT NOT NULL,
			type TEXT NOT NULL,
			data TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			appointment_id TEXT NOT NULL,
			session_id TEXT,
			submission TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 1,
			last_error TEXT,
			queued_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_session ON lifecycle_events(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_appointment ON lifecycle_events(appointment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_outbox_queued ON feedback_outbox(queued_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// AppendLifecycleEvent stores one journal entry. Data is kept as JSON.
func (s *Store) AppendLifecycleEvent(ctx context.Context, event *domain.LifecycleEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	query := `INSERT INTO lifecycle_events (id, session_id, appointment_id, type, data, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.SessionID, event.AppointmentID, string(event.Type), string(data), event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append lifecycle event: %w", err)
	}
	return nil
}

// ListLifecycleEvents returns a session's journal in insertion order. Data is
// returned as json.RawMessage.
func (s *Store) ListLifecycleEvents(ctx context.Context, sessionID string) ([]*domain.LifecycleEvent, error) {
	query := `SELECT id, session_id, appointment_id, type, data, created_at
	          FROM lifecycle_events WHERE session_id = ?
	          ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []*domain.LifecycleEvent
	for rows.Next() {
		var ev domain.LifecycleEvent
		var eventType string
		var data sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.AppointmentID, &eventType, &data, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		ev.Type = domain.LifecycleEventType(eventType)
		if data.Valid && data.String != "" {
			ev.Data = json.RawMessage(data.String)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// EnqueueFeedback keeps a submission that could not be delivered.
func (s *Store) EnqueueFeedback(ctx context.Context, sub *domain.FeedbackSubmission, lastErr string) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}
	now := s.now().UTC()

	query := `INSERT INTO feedback_outbox (appointment_id, session_id, submission, attempts, last_error, queued_at, updated_at)
	          VALUES (?, ?, ?, 1, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, sub.AppointmentID, sub.SessionID, string(payload), lastErr, now, now); err != nil {
		return fmt.Errorf("failed to enqueue feedback: %w", err)
	}
	return nil
}

// PendingFeedback returns queued submissions, oldest first. A non-positive
// limit returns everything.
func (s *Store) PendingFeedback(ctx context.Context, limit int) ([]*ports.OutboxEntry, error) {
	query := `SELECT id, submission, attempts, last_error, queued_at
	          FROM feedback_outbox ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback outbox: %w", err)
	}
	defer rows.Close()

	var entries []*ports.OutboxEntry
	for rows.Next() {
		var entry ports.OutboxEntry
		var payload string
		var lastErr sql.NullString
		if err := rows.Scan(&entry.ID, &payload, &entry.Attempts, &lastErr, &entry.QueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		var sub domain.FeedbackSubmission
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
			return nil, fmt.Errorf("failed to unmarshal submission %d: %w", entry.ID, err)
		}
		entry.Submission = &sub
		entry.LastError = lastErr.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// MarkFeedbackDelivered removes a delivered entry.
func (s *Store) MarkFeedbackDelivered(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feedback_outbox WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete outbox entry: %w", err)
	}
	return expectRow(res, id)
}

// RecordFeedbackAttempt bumps the attempt counter of an entry.
func (s *Store) RecordFeedbackAttempt(ctx context.Context, id int64, lastErr string) error {
	query := `UPDATE feedback_outbox SET attempts = attempts + 1, last_error = ?, updated_at = ?
	          WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, lastErr, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry: %w", err)
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %d: %w", id, errNotFound)
	}
	return nil
}

var errNotFound = errors.New("not found")

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
