// Package storage records per-race job outcomes of scrape runs in SQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rpscrape/internal/config"
)

// JobRecord is the outcome of one race page in one run.
type JobRecord struct {
	RunID      string
	Index      int
	URL        string
	Outcome    string
	Rows       int
	Error      string
	FinishedAt time.Time
}

// JobStore persists job outcomes.
type JobStore interface {
	SaveJobs(ctx context.Context, jobs []JobRecord) error
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scrape_jobs (
	    run_id TEXT NOT NULL,
	    idx INT NOT NULL,
	    url TEXT NOT NULL,
	    outcome TEXT NOT NULL,
	    rows INT NOT NULL DEFAULT 0,
	    error TEXT,
	    finished_at TIMESTAMPTZ,
	    PRIMARY KEY (run_id, idx)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_outcome ON scrape_jobs (outcome, finished_at DESC)`,
}

// A rerun of the same run id overwrites earlier outcomes for each index.
const upsertJob = `
INSERT INTO scrape_jobs (run_id, idx, url, outcome, rows, error, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, idx) DO UPDATE SET
    url = EXCLUDED.url,
    outcome = EXCLUDED.outcome,
    rows = EXCLUDED.rows,
    error = EXCLUDED.error,
    finished_at = EXCLUDED.finished_at`

// SQLWriter records job outcomes in Postgres.
type SQLWriter struct {
	db      *sql.DB
	migrate bool
}

// NewSQLWriter connects using cfg, creating the database and schema when
// configured to.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	w := &SQLWriter{db: db, migrate: cfg.AutoMigrate}
	if w.migrate {
		if err := w.applySchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return w, nil
}

// NewSQLWriterFromDB wraps a handle whose pool the caller manages.
func NewSQLWriterFromDB(db *sql.DB) *SQLWriter {
	return &SQLWriter{db: db}
}

// SaveJobs upserts jobs in one transaction. With auto-migrate on, a missing
// table is created and the batch retried once.
func (s *SQLWriter) SaveJobs(ctx context.Context, jobs []JobRecord) error {
	if s == nil || s.db == nil || len(jobs) == 0 {
		return nil
	}
	err := s.upsert(ctx, jobs)
	if err != nil && s.migrate && missingTable(err) {
		if err := s.applySchema(ctx); err != nil {
			return err
		}
		err = s.upsert(ctx, jobs)
	}
	if err != nil {
		return fmt.Errorf("save %d jobs: %w", len(jobs), err)
	}
	return nil
}

func (s *SQLWriter) upsert(ctx context.Context, jobs []JobRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertJob)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, j := range jobs {
		if _, err = stmt.ExecContext(ctx, j.RunID, j.Index, j.URL, j.Outcome, j.Rows, j.Error, j.FinishedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// applySchema still runs after ctx is cancelled.
func (s *SQLWriter) applySchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying DB connection.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
