// Package jobstore persists jobs in SQLite so that status survives a
// service restart.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/page-narrator/internal/job"

	_ "modernc.org/sqlite" // Register driver
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs (created_at DESC);`,
}

var _ job.Store = (*SQLiteStore)(nil)

// SQLiteStore implements job.Store. Every mutation runs in its own
// transaction over a single connection.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755)
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", mkdirErr)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}

	db.SetMaxOpenConns(1)

	statements := append([]string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=30000;"}, migrations...)
	for _, statement := range statements {
		_, execErr := db.Exec(statement)
		if execErr != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to initialise job database: %w query: %s", execErr, statement)
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new job.
func (s *SQLiteStore) Create(ctx context.Context, created job.Job) error {
	data, err := json.Marshal(created)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", created.ID, err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var count int

		scanErr := tx.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE id = ?`, created.ID).Scan(&count)
		if scanErr != nil {
			return fmt.Errorf("failed to check job %s: %w", created.ID, scanErr)
		}

		if count > 0 {
			return fmt.Errorf("%w: %s", job.ErrAlreadyExists, created.ID)
		}

		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, status, created_at, updated_at, data) VALUES (?, ?, ?, ?, ?)`,
			created.ID, string(created.Status), created.CreatedAt.UnixNano(), created.UpdatedAt.UnixNano(), string(data))
		if execErr != nil {
			return fmt.Errorf("failed to insert job %s: %w", created.ID, execErr)
		}

		return nil
	})
}

// Get loads a job.
func (s *SQLiteStore) Get(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id)

	return scanJob(row, id)
}

// Start claims a queued job for processing.
func (s *SQLiteStore) Start(ctx context.Context, id string) (job.Job, error) {
	var started job.Job

	err := s.update(ctx, id, func(current *job.Job) error {
		startErr := current.Start(s.now())
		if startErr != nil {
			return startErr
		}

		started = current.Clone()

		return nil
	})

	return started, err
}

// AdvanceStage records stage and progress.
func (s *SQLiteStore) AdvanceStage(ctx context.Context, id, stage string, progress job.Progress) error {
	return s.update(ctx, id, func(current *job.Job) error {
		return current.Advance(stage, progress, s.now())
	})
}

// AddWarnings appends warnings.
func (s *SQLiteStore) AddWarnings(ctx context.Context, id string, warnings ...job.Warning) error {
	return s.update(ctx, id, func(current *job.Job) error {
		return current.AddWarnings(s.now(), warnings...)
	})
}

// Complete marks the job completed.
func (s *SQLiteStore) Complete(ctx context.Context, id, artifactRef string) error {
	return s.update(ctx, id, func(current *job.Job) error {
		return current.Complete(artifactRef, s.now())
	})
}

// Fail marks the job failed.
func (s *SQLiteStore) Fail(ctx context.Context, id string, kind job.ErrorKind, message string) error {
	return s.update(ctx, id, func(current *job.Job) error {
		return current.Fail(kind, message, s.now())
	})
}

// List returns jobs newest first. A non-positive limit returns all jobs.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]job.Job, error) {
	if limit <= 0 {
		limit = -1
	}

	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []job.Job{}

	for rows.Next() {
		var id, data string

		scanErr := rows.Scan(&id, &data)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", scanErr)
		}

		var listed job.Job

		unmarshalErr := json.Unmarshal([]byte(data), &listed)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", id, unmarshalErr)
		}

		jobs = append(jobs, listed)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", rowsErr)
	}

	return jobs, nil
}

func (s *SQLiteStore) update(ctx context.Context, id string, mutate func(current *job.Job) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id), id)
		if err != nil {
			return err
		}

		mutateErr := mutate(&current)
		if mutateErr != nil {
			return fmt.Errorf("job %s: %w", id, mutateErr)
		}

		data, marshalErr := json.Marshal(current)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal job %s: %w", id, marshalErr)
		}

		_, execErr := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ?, data = ? WHERE id = ?`,
			string(current.Status), current.UpdatedAt.UnixNano(), string(data), id)
		if execErr != nil {
			return fmt.Errorf("failed to update job %s: %w", id, execErr)
		}

		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	fnErr := fn(tx)
	if fnErr != nil {
		_ = tx.Rollback()

		return fnErr
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("failed to commit transaction: %w", commitErr)
	}

	return nil
}

func scanJob(row *sql.Row, id string) (job.Job, error) {
	var data string

	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}

	if err != nil {
		return job.Job{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var loaded job.Job

	unmarshalErr := json.Unmarshal([]byte(data), &loaded)
	if unmarshalErr != nil {
		return job.Job{}, fmt.Errorf("failed to decode job %s: %w", id, unmarshalErr)
	}

	if loaded.Warnings == nil {
		loaded.Warnings = []job.Warning{}
	}

	return loaded, nil
}
