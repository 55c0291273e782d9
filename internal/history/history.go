// Package history persists the outcome of finished executions so `dockhand
// history` can show what ran, where, and how it ended.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Entry struct {
	RunID       string
	DisplayName string
	Backend     string
	Command     string
	Arguments   []string
	ExitValue   int
	Failure     string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store keeps one database handle for its whole lifetime; callers close it
// through Close when they are done recording.
type Store struct {
	db *sql.DB
}

// Open prepares a store at dbPath, creating the parent directory and schema
// as needed.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database %q: %w", dbPath, err)
	}
	s := &Store{db: db}
	if err := s.initDB(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initDB(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
			run_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			backend TEXT NOT NULL,
			command TEXT NOT NULL,
			arguments TEXT NOT NULL,
			exit_value INTEGER NOT NULL,
			failure TEXT NOT NULL,
			started_at_unix INTEGER NOT NULL,
			finished_at_unix INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_executions_finished ON executions(finished_at_unix);
	`)
	if err != nil {
		return fmt.Errorf("initialise history schema: %w", err)
	}
	return nil
}

// Record stores one finished execution.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions (
			run_id, display_name, backend, command, arguments,
			exit_value, failure, started_at_unix, finished_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RunID,
		entry.DisplayName,
		entry.Backend,
		entry.Command,
		strings.Join(entry.Arguments, "\x1f"),
		entry.ExitValue,
		entry.Failure,
		entry.StartedAt.Unix(),
		entry.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record execution %s: %w", entry.RunID, err)
	}
	return nil
}

// Recent returns up to limit entries, most recently finished first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			run_id, display_name, backend, command, arguments,
			exit_value, failure, started_at_unix, finished_at_unix
		FROM executions
		ORDER BY finished_at_unix DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var args string
		var startedAt, finishedAt int64
		if err := rows.Scan(
			&entry.RunID, &entry.DisplayName, &entry.Backend, &entry.Command, &args,
			&entry.ExitValue, &entry.Failure, &startedAt, &finishedAt,
		); err != nil {
			return nil, err
		}
		if args != "" {
			entry.Arguments = strings.Split(args, "\x1f")
		}
		entry.StartedAt = time.Unix(startedAt, 0).UTC()
		entry.FinishedAt = time.Unix(finishedAt, 0).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
