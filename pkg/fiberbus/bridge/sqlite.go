package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

// SQLiteJournal persists journaled events to SQLite.
// Every instance records under a new session id, so reopening a database
// keeps earlier sessions readable.
type SQLiteJournal struct {
	db      *sql.DB
	session string
	logger  *slog.Logger
	mu      sync.RWMutex
	closed  bool
}

// NewSQLiteJournal opens (or creates) a journal database.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteJournal(path string, logger *slog.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			session TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			source INTEGER NOT NULL,
			value INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			recorded TEXT NOT NULL,
			PRIMARY KEY (session, sequence)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteJournal{
		db:      db,
		session: uuid.NewString(),
		logger:  logger,
	}, nil
}

// Forward implements Sink.
func (j *SQLiteJournal) Forward(evt event.Event) {
	if err := j.Record(context.Background(), evt); err != nil {
		observability.LogBridgeError(j.logger, "journal", err)
	}
}

// Record implements Journal.
func (j *SQLiteJournal) Record(ctx context.Context, evt event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (session, sequence, source, value, ticks, recorded)
		VALUES (
			?,
			COALESCE((SELECT MAX(sequence) FROM events WHERE session = ?), 0) + 1,
			?, ?, ?, ?
		)
	`, j.session, j.session, evt.Source, evt.Value, int64(evt.Timestamp),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// List implements Journal.
func (j *SQLiteJournal) List(ctx context.Context, session string) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrJournalClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT sequence, source, value, ticks, recorded
		FROM events
		WHERE session = ?
		ORDER BY sequence
	`, session)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec      Record
			source   int64
			value    int64
			ticks    int64
			recorded string
		)
		if err := rows.Scan(&rec.Sequence, &source, &value, &ticks, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Session = session
		rec.Event = event.Event{Source: uint16(source), Value: uint16(value), Timestamp: uint64(ticks)}
		rec.Recorded, _ = time.Parse(time.RFC3339Nano, recorded)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// Count implements Journal.
func (j *SQLiteJournal) Count(ctx context.Context, session string) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ErrJournalClosed
	}

	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session = ?`, session).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Session implements Journal.
func (j *SQLiteJournal) Session() string {
	return j.session
}

// Close implements Journal.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
