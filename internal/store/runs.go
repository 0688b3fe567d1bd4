package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/nwbpack/internal/trials"
)

var ErrRunNotFound = errors.New("run not found")

const (
	StatusRunning  = "running"
	StatusPackaged = "packaged"
	StatusFailed   = "failed"
)

// Run is one packaging attempt of a session.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Session    string     `json:"session"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Manifest   string     `json:"manifest,omitempty"`
	Error      string     `json:"error,omitempty"`
	Trials     int        `json:"trials"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TrialRow is a downsampled trial recorded with its run.
type TrialRow struct {
	Index     int            `json:"index"`
	StartTime float64        `json:"start_time"`
	StopTime  float64        `json:"stop_time"`
	Fields    map[string]any `json:"fields"`
}

// StartRun records that packaging of session began. Source names the
// trigger: nats, api or batch.
func (s *Store) StartRun(ctx context.Context, session, source string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO package_runs (id, session, source, status, started_at)
		VALUES ($1, $2, $3, $4, now())`,
		id, session, source, StatusRunning,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks the run packaged and stores its trials.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, manifest string, rows []trials.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE package_runs SET status = $1, manifest = $2, trials = $3, finished_at = now()
		WHERE id = $4`,
		StatusPackaged, manifest, len(rows), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	for i, row := range rows {
		fields := row.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO package_trials (id, run_id, trial_index, start_time, stop_time, fields)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), id, i, row.Start, row.Stop, fields,
		)
		if err != nil {
			return fmt.Errorf("insert trial %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FailRun marks the run failed with msg.
func (s *Store) FailRun(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE package_runs SET status = $1, error = $2, finished_at = now()
		WHERE id = $3`,
		StatusFailed, msg, id,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session, source, status, manifest, error, trials, started_at, finished_at
		FROM package_runs WHERE id = $1`, id)

	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns the most recent runs, optionally only those of session.
func (s *Store) ListRuns(ctx context.Context, session string, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session, source, status, manifest, error, trials, started_at, finished_at
		FROM package_runs
		WHERE $1 = '' OR session = $1
		ORDER BY started_at DESC
		LIMIT $2`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListTrials returns the trials stored with run id in order.
func (s *Store) ListTrials(ctx context.Context, id uuid.UUID) ([]TrialRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trial_index, start_time, stop_time, fields
		FROM package_trials WHERE run_id = $1
		ORDER BY trial_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var out []TrialRow
	for rows.Next() {
		var t TrialRow
		if err := rows.Scan(&t.Index, &t.StartTime, &t.StopTime, &t.Fields); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Session, &r.Source, &r.Status, &r.Manifest, &r.Error, &r.Trials, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
