// Package profilestore persists telemetry events to SQLite so runs can be
// compared offline.
package profilestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"k8s.io/examples/AI/planexec/pkg/telemetry"
	"k8s.io/klog/v2"

	_ "modernc.org/sqlite"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    method      TEXT NOT NULL,
    kind        TEXT NOT NULL,
    name        TEXT NOT NULL,
    chain       INTEGER NOT NULL,
    instruction INTEGER NOT NULL,
    started_at  INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL,
    error       TEXT
)`

const createRunIndex = `CREATE INDEX IF NOT EXISTS events_run_id ON events (run_id)`

// Store is a telemetry.Tracer backed by SQLite. Write failures are logged and
// dropped; they never reach the method being traced.
type Store struct {
	db *sql.DB
}

var _ telemetry.Tracer = (*Store)(nil)

// Row is one persisted event.
type Row struct {
	RunID       string
	Method      string
	Kind        telemetry.Kind
	Name        string
	Chain       int
	Instruction int
	StartedAt   time.Time
	Duration    time.Duration
	Error       string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createEventsTable, createRunIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create events table: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Begin(ev telemetry.Event) telemetry.Span {
	return telemetry.StartSpan(ev)
}

func (s *Store) End(span telemetry.Span, execErr error) {
	ev := span.Event
	var errText sql.NullString
	if execErr != nil {
		errText = sql.NullString{String: execErr.Error(), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO events (run_id, method, kind, name, chain, instruction, started_at, duration_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Method, string(ev.Kind), ev.Name, ev.Chain, ev.Instruction,
		span.Start.UnixNano(), span.Elapsed().Nanoseconds(), errText,
	)
	if err != nil {
		klog.Background().Error(err, "recording profile event", "run", ev.RunID, "kind", ev.Kind, "name", ev.Name)
	}
}

// Events returns the rows of one run in insertion order.
func (s *Store) Events(ctx context.Context, runID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, method, kind, name, chain, instruction, started_at, duration_ns, error
		FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r         Row
			kind      string
			startedAt int64
			duration  int64
			errText   sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Method, &kind, &r.Name, &r.Chain, &r.Instruction, &startedAt, &duration, &errText); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Kind = telemetry.Kind(kind)
		r.StartedAt = time.Unix(0, startedAt)
		r.Duration = time.Duration(duration)
		r.Error = errText.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Runs lists the distinct run IDs recorded for a method, oldest first.
func (s *Store) Runs(ctx context.Context, method string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM events WHERE method = ? GROUP BY run_id ORDER BY MIN(id)`, method)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
