// Package history records completed benchmark sessions in a SQLite
// database so runs on different machines or dates can be compared later.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/weiihann/hddtest/report"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("history store is closed")

// ErrNotFound is returned by Get for an unknown run.
var ErrNotFound = errors.New("run not found")

const (
	createTableSQL = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,  -- unix microseconds
		target_path TEXT NOT NULL,
		model TEXT NOT NULL,
		serial TEXT NOT NULL,
		result_file TEXT NOT NULL,
		rows TEXT NOT NULL            -- JSON encoded []report.Row
	);`

	createIndicesSQL = `
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_serial ON runs(serial);`

	insertSQL = `
	INSERT INTO runs (id, created_at, target_path, model, serial, result_file, rows)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectColumns = `SELECT id, created_at, target_path, model, serial, result_file, rows FROM runs`
)

// Run is one recorded session.
type Run struct {
	ID         uuid.UUID    `json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	TargetPath string       `json:"target_path"`
	Model      string       `json:"model"`
	Serial     string       `json:"serial"`
	ResultFile string       `json:"result_file,omitempty"`
	Rows       []report.Row `json:"rows"`
}

// Store is a SQLite backed run history.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the database at path. Call Initialize before use.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?mode=rwc&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Initialize creates the schema.
func (s *Store) Initialize() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	if _, err := s.db.Exec(createIndicesSQL); err != nil {
		return fmt.Errorf("create indices: %w", err)
	}

	return nil
}

// Record inserts run. A zero ID or creation time is filled in.
func (s *Store) Record(ctx context.Context, run *Run) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	rows, err := json.Marshal(run.Rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertSQL,
		run.ID.String(),
		run.CreatedAt.UnixMicro(),
		run.TargetPath,
		run.Model,
		run.Serial,
		run.ResultFile,
		string(rows),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	return nil
}

// List returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	query := selectColumns + ` ORDER BY created_at DESC`
	args := []any{}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Run{}, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id.String())

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run     Run
		id      string
		created int64
		rows    string
	)

	err := sc.Scan(&id, &created, &run.TargetPath, &run.Model, &run.Serial, &run.ResultFile, &rows)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}

		return run, fmt.Errorf("scan run: %w", err)
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return run, fmt.Errorf("parse run id %q: %w", id, err)
	}

	run.CreatedAt = time.UnixMicro(created)

	if err := json.Unmarshal([]byte(rows), &run.Rows); err != nil {
		return run, fmt.Errorf("decode rows of %s: %w", id, err)
	}

	return run, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.db.Close()
}
