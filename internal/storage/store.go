// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists completed story runs and their call logs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tombee/callstep/pkg/call"
	cerrors "github.com/tombee/callstep/pkg/errors"
)

// RunStatus is how a story run finished.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunErrored   RunStatus = "errored"

	// RunAborted marks a run superseded by a remount before it finished.
	RunAborted RunStatus = "aborted"
)

// Run is one execution of a story's play function.
type Run struct {
	ID          string    `json:"id"`
	StoryID     string    `json:"storyId"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	IsDebugging bool      `json:"isDebugging"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`

	// CallCount is set by ListRuns, which does not load Calls or Log.
	CallCount int `json:"callCount"`

	Calls []call.Call    `json:"calls,omitempty"`
	Log   []call.LogItem `json:"log,omitempty"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// ListOptions filters ListRuns.
type ListOptions struct {
	// StoryID restricts results to one story.
	StoryID string

	// Limit caps the number of runs returned. Zero means 50.
	Limit int
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// RunStore provides SQLite-backed storage for runs.
type RunStore struct {
	db *sql.DB
}

// New opens the database at cfg.Path, creating it and its parent directory
// if needed.
func New(cfg Config) (*RunStore, error) {
	if cfg.Path == "" {
		return nil, &cerrors.ValidationError{Field: "storage.path", Message: "database path is required"}
	}

	connStr := cfg.Path
	maxConns := cfg.MaxOpenConns
	if cfg.Path == ":memory:" {
		// Each connection would get its own in-memory database.
		maxConns = 1
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, &cerrors.StorageError{Op: "open", Cause: err}
		}
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	}
	if maxConns == 0 {
		maxConns = 5
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, &cerrors.StorageError{Op: "open", Cause: err}
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &cerrors.StorageError{Op: "open", Cause: err}
	}

	store := &RunStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, &cerrors.StorageError{Op: "migrate", Cause: err}
	}

	return store, nil
}

func (s *RunStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return cerrors.Wrap(err, "failed to enable foreign keys")
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			story_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			is_debugging INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			call_count INTEGER NOT NULL DEFAULT 0,
			log TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_story ON runs(story_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS calls (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			call_id TEXT NOT NULL,
			method TEXT NOT NULL,
			state TEXT,
			interceptable INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_method ON calls(method)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return cerrors.Wrap(err, "migration failed")
		}
	}
	return nil
}

// SaveRun stores run and its calls, replacing any run with the same id.
// An empty ID is filled with a new UUID.
func (s *RunStore) SaveRun(ctx context.Context, run *Run) error {
	if run == nil {
		return &cerrors.ValidationError{Field: "run", Message: "run is nil"}
	}
	if run.StoryID == "" {
		return &cerrors.ValidationError{Field: "run.storyId", Message: "story id is required"}
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	logJSON, err := json.Marshal(run.Log)
	if err != nil {
		return &cerrors.StorageError{Op: "save", Cause: cerrors.Wrap(err, "failed to marshal log")}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &cerrors.StorageError{Op: "save", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calls WHERE run_id = ?`, run.ID); err != nil {
		return &cerrors.StorageError{Op: "save", Cause: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, story_id, status, error, is_debugging, started_at, ended_at, call_count, log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			story_id = excluded.story_id,
			status = excluded.status,
			error = excluded.error,
			is_debugging = excluded.is_debugging,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			call_count = excluded.call_count,
			log = excluded.log
	`,
		run.ID, run.StoryID, string(run.Status), nullString(run.Error), run.IsDebugging,
		run.StartedAt.UnixNano(), run.EndedAt.UnixNano(), len(run.Calls), string(logJSON),
	)
	if err != nil {
		return &cerrors.StorageError{Op: "save", Cause: err}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO calls (run_id, position, call_id, method, state, interceptable, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return &cerrors.StorageError{Op: "save", Cause: err}
	}
	defer stmt.Close()

	for i, c := range run.Calls {
		data, err := json.Marshal(c)
		if err != nil {
			return &cerrors.StorageError{Op: "save", Cause: cerrors.Wrapf(err, "failed to marshal call %s", c.ID)}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, c.ID, c.Method, string(c.State), c.Interceptable, string(data)); err != nil {
			return &cerrors.StorageError{Op: "save", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &cerrors.StorageError{Op: "save", Cause: err}
	}
	run.CallCount = len(run.Calls)
	return nil
}

// GetRun loads a run with its calls and log.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, story_id, status, error, is_debugging, started_at, ended_at, call_count, log
		FROM runs WHERE id = ?
	`, id)

	var (
		run     Run
		logJSON sql.NullString
	)
	if err := scanRun(row, &run, &logJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &cerrors.NotFoundError{Resource: "run", ID: id}
		}
		return nil, &cerrors.StorageError{Op: "get", Cause: err}
	}

	if logJSON.Valid && logJSON.String != "" {
		if err := json.Unmarshal([]byte(logJSON.String), &run.Log); err != nil {
			return nil, &cerrors.StorageError{Op: "get", Cause: cerrors.Wrap(err, "failed to unmarshal log")}
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM calls WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, &cerrors.StorageError{Op: "get", Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &cerrors.StorageError{Op: "get", Cause: err}
		}
		var c call.Call
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, &cerrors.StorageError{Op: "get", Cause: cerrors.Wrap(err, "failed to unmarshal call")}
		}
		run.Calls = append(run.Calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &cerrors.StorageError{Op: "get", Cause: err}
	}

	return &run, nil
}

// ListRuns returns runs newest first without their calls.
func (s *RunStore) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, story_id, status, error, is_debugging, started_at, ended_at, call_count, NULL FROM runs`
	args := []any{}
	if opts.StoryID != "" {
		query += ` WHERE story_id = ?`
		args = append(args, opts.StoryID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &cerrors.StorageError{Op: "list", Cause: err}
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			run     Run
			logJSON sql.NullString
		)
		if err := scanRun(rows, &run, &logJSON); err != nil {
			return nil, &cerrors.StorageError{Op: "list", Cause: err}
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, &cerrors.StorageError{Op: "list", Cause: err}
	}
	return runs, nil
}

// DeleteRun removes a run and its calls.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return &cerrors.StorageError{Op: "delete", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &cerrors.StorageError{Op: "delete", Cause: err}
	}
	if n == 0 {
		return &cerrors.NotFoundError{Resource: "run", ID: id}
	}
	return nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner, run *Run, logJSON *sql.NullString) error {
	var (
		status    string
		errText   sql.NullString
		startedAt int64
		endedAt   int64
	)
	if err := row.Scan(&run.ID, &run.StoryID, &status, &errText, &run.IsDebugging,
		&startedAt, &endedAt, &run.CallCount, logJSON); err != nil {
		return err
	}
	run.Status = RunStatus(status)
	run.Error = errText.String
	run.StartedAt = time.Unix(0, startedAt)
	run.EndedAt = time.Unix(0, endedAt)
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
