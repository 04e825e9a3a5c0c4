// Package store persists the run journal in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/exportq/pkg/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Journal using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One writer at a time; an in-memory database also only exists per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, max_active, max_waiting, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.MaxActive, run.MaxWaiting, run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `r.id, r.name, r.max_active, r.max_waiting, r.created_at, r.finished_at,
	(SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first with the total count.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.created_at DESC, r.id LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// --- Events ---

// RecordEvent appends ev and sets its ID.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *model.Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("record event: unknown kind %q", ev.Kind)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, kind, task, state, slot, detail, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, string(ev.Kind), ev.Task, string(ev.State), ev.Slot, ev.Detail, ev.At.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record %s event for run %s: %w", ev.Kind, ev.RunID, err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// ListEvents returns the events of runID in the order they were recorded.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Event, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID, "kind", opts.Kind)
	opts.Clamp()

	where := []string{"run_id = ?"}
	args := []any{runID}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, task, state, slot, detail, at FROM events`+whereSQL+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var ev model.Event
		var kind, state, at string
		if err := rows.Scan(&ev.ID, &ev.RunID, &kind, &ev.Task, &state, &ev.Slot, &ev.Detail, &at); err != nil {
			return nil, 0, err
		}
		ev.Kind = model.EventKind(kind)
		ev.State = model.TaskState(state)
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, &ev)
	}
	return events, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var createdAt string
	var finishedAt *string
	if err := row.Scan(&run.ID, &run.Name, &run.MaxActive, &run.MaxWaiting, &createdAt, &finishedAt, &run.Events); err != nil {
		return nil, err
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if finishedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *finishedAt)
		run.FinishedAt = &t
	}
	return &run, nil
}
