package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Run statuses persisted in research_runs.status.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrNotFound is returned when no archived run has the requested id.
var ErrNotFound = errors.New("run not found")

// Clarification is one answered planner question kept with the run.
type Clarification struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// RunRecord is a finished research run. It archives the outcome only; the
// live session is never restored from it.
type RunRecord struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	Report         string          `json:"report,omitempty"`
	Error          string          `json:"error,omitempty"`
	Status         string          `json:"status"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Duration is the wall time the run took.
func (r RunRecord) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

const saveRunSQL = `
INSERT INTO research_runs (id, question, report, error, status, clarifications, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  report = EXCLUDED.report,
  error = EXCLUDED.error,
  status = EXCLUDED.status,
  clarifications = EXCLUDED.clarifications,
  finished_at = EXCLUDED.finished_at;
`

// SaveRun inserts rec, or updates the outcome of an existing run with the same id.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	switch rec.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("invalid run status %q", rec.Status)
	}
	clar := rec.Clarifications
	if clar == nil {
		clar = []Clarification{}
	}
	raw, err := json.Marshal(clar)
	if err != nil {
		return fmt.Errorf("marshal clarifications: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, saveRunSQL,
		rec.ID, rec.Question, rec.Report, rec.Error, rec.Status, raw, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

const selectRunSQL = `
SELECT id, question, report, error, status, clarifications, started_at, finished_at
FROM research_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec RunRecord
		raw []byte
	)
	if err := row.Scan(&rec.ID, &rec.Question, &rec.Report, &rec.Error, &rec.Status, &raw, &rec.StartedAt, &rec.FinishedAt); err != nil {
		return RunRecord{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Clarifications); err != nil {
			return RunRecord{}, fmt.Errorf("decode clarifications: %w", err)
		}
	}
	return rec, nil
}

// GetRun returns the archived run with the given id or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	rec, err := scanRun(s.DB.QueryRowContext(ctx, selectRunSQL+"\nWHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, selectRunSQL+"\nORDER BY started_at DESC\nLIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
