// Package storage persists the run journal in SQLite and checkpoints run
// totals as snapshot files.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
)

// EventStore is the write-ahead journal of run events.
type EventStore struct {
	db *sql.DB
}

// NewEventStore opens (or creates) the SQLite journal at dbPath in WAL mode.
func NewEventStore(dbPath string) (*EventStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; the recorder is single-threaded anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS events_run ON events (run_id, id);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &EventStore{db: db}, nil
}

// runID extracts the run an event belongs to, for indexing.
func runID(ev event.Event) string {
	switch e := ev.(type) {
	case *event.RunStartedEvent:
		return e.Info.RunID
	case *event.RoundFinishedEvent:
		return e.Round.RunID
	case *event.ImbalanceRecordedEvent:
		return e.RunID
	case *event.RunFinishedEvent:
		return e.Stats.RunID
	case *event.SystemHaltEvent:
		return e.RunID
	}
	return ""
}

// SaveEvent appends an event under its sequence number.
func (s *EventStore) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, type, ts, run_id, payload) VALUES (?, ?, ?, ?, ?)",
		ev.GetSeq(), ev.GetType(), ev.GetTs(), runID(ev), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %d: %w", ev.GetSeq(), err)
	}
	return nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *EventStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table, "" when absent.
func (s *EventStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetLastSeq returns the highest stored sequence number, 0 when empty.
func (s *EventStore) GetLastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM events").Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadEvents loads events from fromSeq (inclusive) in sequence order.
func (s *EventStore) LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error) {
	return s.query(ctx, "SELECT id, type, payload FROM events WHERE id >= ? ORDER BY id ASC", fromSeq)
}

// LoadRun loads every event of one run in sequence order.
func (s *EventStore) LoadRun(ctx context.Context, runID string) ([]event.Event, error) {
	return s.query(ctx, "SELECT id, type, payload FROM events WHERE run_id = ? ORDER BY id ASC", runID)
}

func (s *EventStore) query(ctx context.Context, q string, arg any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			id      int64
			evType  int
			payload []byte
		)
		if err := rows.Scan(&id, &evType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev, err := event.Decode(event.Type(evType), payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", id, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *EventStore) Close() error {
	return s.db.Close()
}
