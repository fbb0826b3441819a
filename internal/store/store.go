// Package store persists validation runs and their per-row results in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ppiankov/refcheck/internal/model"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run ID is unknown
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id             TEXT PRIMARY KEY,
	job_name           TEXT NOT NULL,
	mode               TEXT NOT NULL DEFAULT '',
	provider           TEXT NOT NULL DEFAULT '',
	model              TEXT NOT NULL DEFAULT '',
	started_at         TEXT NOT NULL,
	finished_at        TEXT NOT NULL,
	total              INTEGER NOT NULL DEFAULT 0,
	average_confidence REAL NOT NULL DEFAULT 0,
	by_verdict         TEXT NOT NULL DEFAULT '{}',
	documents          TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS results (
	run_id            TEXT NOT NULL,
	position          INTEGER NOT NULL,
	statement         TEXT NOT NULL,
	reference_no      TEXT NOT NULL DEFAULT '',
	reference         TEXT NOT NULL DEFAULT '',
	matched_paper     TEXT NOT NULL DEFAULT '',
	matched_evidence  TEXT NOT NULL DEFAULT '',
	validation_result TEXT NOT NULL,
	page_location     TEXT NOT NULL DEFAULT '',
	confidence_score  REAL NOT NULL DEFAULT 0,
	matching_method   TEXT NOT NULL DEFAULT '',
	analysis_summary  TEXT NOT NULL DEFAULT '',
	confidence_band   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Store is a SQLite-backed run store
type Store struct {
	db *sqlx.DB
}

// RunInfo is one row of the runs table
type RunInfo struct {
	RunID             string    `db:"run_id"`
	JobName           string    `db:"job_name"`
	Mode              string    `db:"mode"`
	Provider          string    `db:"provider"`
	Model             string    `db:"model"`
	Total             int       `db:"total"`
	AverageConfidence float64   `db:"average_confidence"`
	StartedAt         time.Time `db:"-"`
	FinishedAt        time.Time `db:"-"`

	ByVerdict map[model.Verdict]int `db:"-"`
	Documents []string              `db:"-"`

	StartedRaw   string `db:"started_at"`
	FinishedRaw  string `db:"finished_at"`
	ByVerdictRaw string `db:"by_verdict"`
	DocumentsRaw string `db:"documents"`
}

// resultRow is one row of the results table
type resultRow struct {
	RunID    string `db:"run_id"`
	Position int    `db:"position"`
	model.VerdictRecord
}

// Open opens (and creates) the store at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a run report and its results in one transaction
func (s *Store) SaveRun(ctx context.Context, report *model.RunReport) error {
	byVerdict, err := json.Marshal(report.Summary.ByVerdict)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	documents, err := json.Marshal(report.Documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, job_name, mode, provider, model, started_at, finished_at, total, average_confidence, by_verdict, documents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.JobName, report.Mode, report.Provider, report.Model,
		report.StartedAt.UTC().Format(time.RFC3339Nano), report.FinishedAt.UTC().Format(time.RFC3339Nano),
		report.Summary.Total, report.Summary.AverageConfidence, string(byVerdict), string(documents))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id = ?`, report.RunID); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}

	for i, rec := range report.Results {
		row := resultRow{RunID: report.RunID, Position: i, VerdictRecord: rec}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO results
				(run_id, position, statement, reference_no, reference, matched_paper, matched_evidence,
				 validation_result, page_location, confidence_score, matching_method, analysis_summary, confidence_band)
			VALUES
				(:run_id, :position, :statement, :reference_no, :reference, :matched_paper, :matched_evidence,
				 :validation_result, :page_location, :confidence_score, :matching_method, :analysis_summary, :confidence_band)`,
			row)
		if err != nil {
			return fmt.Errorf("insert result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	query := `SELECT run_id, job_name, mode, provider, model, started_at, finished_at,
		total, average_confidence, by_verdict, documents
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var runs []RunInfo
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i := range runs {
		if err := runs[i].decode(); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// GetRun returns one run
func (s *Store) GetRun(ctx context.Context, runID string) (*RunInfo, error) {
	var run RunInfo
	err := s.db.GetContext(ctx, &run, `SELECT run_id, job_name, mode, provider, model, started_at, finished_at,
		total, average_confidence, by_verdict, documents
		FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := run.decode(); err != nil {
		return nil, err
	}
	return &run, nil
}

// LoadResults returns a run's results in row order
func (s *Store) LoadResults(ctx context.Context, runID string) ([]model.VerdictRecord, error) {
	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows, `SELECT run_id, position, statement, reference_no, reference,
		matched_paper, matched_evidence, validation_result, page_location, confidence_score,
		matching_method, analysis_summary, confidence_band
		FROM results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	out := make([]model.VerdictRecord, len(rows))
	for i, r := range rows {
		out[i] = r.VerdictRecord
	}
	return out, nil
}

func (r *RunInfo) decode() error {
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, r.StartedRaw); err != nil {
		return fmt.Errorf("run %s: parse started_at: %w", r.RunID, err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, r.FinishedRaw); err != nil {
		return fmt.Errorf("run %s: parse finished_at: %w", r.RunID, err)
	}
	if err := json.Unmarshal([]byte(r.ByVerdictRaw), &r.ByVerdict); err != nil {
		return fmt.Errorf("run %s: decode by_verdict: %w", r.RunID, err)
	}
	if err := json.Unmarshal([]byte(r.DocumentsRaw), &r.Documents); err != nil {
		return fmt.Errorf("run %s: decode documents: %w", r.RunID, err)
	}
	return nil
}
