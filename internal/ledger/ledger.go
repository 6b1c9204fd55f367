// Package ledger keeps an optional history of runs in PostgreSQL, so an
// operator can see which mornings were recorded without digging through
// logs.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be mocked.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Entry is one finished run.
type Entry struct {
	RunID      string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Outcome    string
	ExitCode   int
	// Error is the failure message, empty on success.
	Error string
}

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS attendance_runs (
    run_id      TEXT PRIMARY KEY,
    command     TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    status      TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    exit_code   INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);`

const insertRun = `
INSERT INTO attendance_runs (run_id, command, started_at, finished_at, status, outcome, exit_code, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id) DO NOTHING;`

const selectRecent = `
SELECT run_id, command, started_at, finished_at, status, outcome, exit_code, error
FROM attendance_runs
ORDER BY started_at DESC
LIMIT $1;`

// Store is the PostgreSQL Recorder.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and returns a store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("ledger")}, nil
}

// Open connects to url, creates the table if needed and returns the store
// with a function that closes the pool.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate creates the runs table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create attendance_runs: %w", err)
	}
	return nil
}

// Record inserts e. Timestamps are stored in UTC; a run id is written once.
func (s *Store) Record(ctx context.Context, e Entry) error {
	tag, err := s.pool.Exec(ctx, insertRun,
		e.RunID, e.Command, e.StartedAt.UTC(), e.FinishedAt.UTC(),
		e.Status, e.Outcome, e.ExitCode, e.Error)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", e.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Warn("Run already recorded", zap.String("run_id", e.RunID))
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.Command, &e.StartedAt, &e.FinishedAt, &e.Status, &e.Outcome, &e.ExitCode, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}
