// Package journal records outbound reply attempts for operators. Entries are
// write-only: the relay never reads them back, so they carry no delivery or
// deduplication semantics.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Outcomes stored in the journal.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Entry is a single outbound attempt.
type Entry struct {
	ID        uuid.UUID
	UpdateID  int64
	ChatID    string
	Outcome   string
	ErrKind   string
	Duration  time.Duration
	CreatedAt time.Time
}

// Store persists journal entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries; it is used when no database is configured.
type Nop struct{}

// Record implements Store.
func (Nop) Record(context.Context, Entry) error { return nil }

// NewEntry fills the generated fields of an entry.
func NewEntry(updateID int64, chatID, outcome, errKind string, d time.Duration) Entry {
	return Entry{
		ID:        uuid.New(),
		UpdateID:  updateID,
		ChatID:    chatID,
		Outcome:   outcome,
		ErrKind:   errKind,
		Duration:  d,
		CreatedAt: time.Now().UTC(),
	}
}

// PostgresStore writes entries into the relay_deliveries table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("journal: nil database")
	}
	return &PostgresStore{db: db}, nil
}

const insertEntry = `INSERT INTO relay_deliveries
	(id, update_id, chat_id, outcome, err_kind, duration_ms, created_at)
VALUES
	(:id, :update_id, :chat_id, :outcome, :err_kind, :duration_ms, :created_at)`

type row struct {
	ID         uuid.UUID `db:"id"`
	UpdateID   *int64    `db:"update_id"`
	ChatID     string    `db:"chat_id"`
	Outcome    string    `db:"outcome"`
	ErrKind    string    `db:"err_kind"`
	DurationMS int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

// Record inserts the entry. A zero ID or timestamp is generated.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r := row{
		ID:         e.ID,
		ChatID:     e.ChatID,
		Outcome:    e.Outcome,
		ErrKind:    e.ErrKind,
		DurationMS: e.Duration.Milliseconds(),
		CreatedAt:  e.CreatedAt,
	}
	if e.UpdateID != 0 {
		id := e.UpdateID
		r.UpdateID = &id
	}
	if _, err := s.db.NamedExecContext(ctx, insertEntry, r); err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
