package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertCaptureRun = `INSERT INTO capture_runs (id, kind, selectors, started_at, duration, result_count, failure_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

type InsertCaptureRunParams struct {
	ID           string
	Kind         string
	Selectors    []string
	StartedAt    pgtype.Timestamptz
	Duration     pgtype.Interval
	ResultCount  int32
	FailureCount int32
}

func (q *Queries) InsertCaptureRun(ctx context.Context, arg InsertCaptureRunParams) error {
	_, err := q.db.Exec(ctx, insertCaptureRun,
		arg.ID,
		arg.Kind,
		arg.Selectors,
		arg.StartedAt,
		arg.Duration,
		arg.ResultCount,
		arg.FailureCount,
	)
	return err
}

const insertCaptureResult = `INSERT INTO capture_results (run_id, position, url, selector, image_path, error_kind, err)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

type InsertCaptureResultParams struct {
	RunID     string
	Position  int32
	Url       string
	Selector  *string
	ImagePath *string
	ErrorKind *string
	Err       *string
}

func (q *Queries) InsertCaptureResult(ctx context.Context, arg InsertCaptureResultParams) error {
	_, err := q.db.Exec(ctx, insertCaptureResult,
		arg.RunID,
		arg.Position,
		arg.Url,
		arg.Selector,
		arg.ImagePath,
		arg.ErrorKind,
		arg.Err,
	)
	return err
}

const listRecentCaptureRuns = `SELECT id, kind, selectors, started_at, duration, result_count, failure_count
FROM capture_runs
ORDER BY started_at DESC
LIMIT $1`

func (q *Queries) ListRecentCaptureRuns(ctx context.Context, limit int32) ([]CaptureRun, error) {
	rows, err := q.db.Query(ctx, listRecentCaptureRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CaptureRun
	for rows.Next() {
		var i CaptureRun
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.Selectors,
			&i.StartedAt,
			&i.Duration,
			&i.ResultCount,
			&i.FailureCount,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listCaptureResults = `SELECT id, run_id, position, url, selector, image_path, error_kind, err
FROM capture_results
WHERE run_id = $1
ORDER BY position`

func (q *Queries) ListCaptureResults(ctx context.Context, runID string) ([]CaptureResult, error) {
	rows, err := q.db.Query(ctx, listCaptureResults, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CaptureResult
	for rows.Next() {
		var i CaptureResult
		if err := rows.Scan(
			&i.ID,
			&i.RunID,
			&i.Position,
			&i.Url,
			&i.Selector,
			&i.ImagePath,
			&i.ErrorKind,
			&i.Err,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// Results are removed along with their runs (ON DELETE CASCADE).
const deleteOldCaptureRuns = `DELETE FROM capture_runs WHERE started_at < now() - $1::interval`

func (q *Queries) DeleteOldCaptureRuns(ctx context.Context, retention pgtype.Interval) (int64, error) {
	result, err := q.db.Exec(ctx, deleteOldCaptureRuns, retention)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
