// Package ledger records capture runs in PostgreSQL, and reads them back for the API.
package ledger

import (
	"context"
	"fmt"
	"time"

	"chimbori.dev/cropshot/capture"
	"chimbori.dev/cropshot/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger implements capture.Recorder.
type Ledger struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// RecordRun writes the run & all its results in a single transaction.
func (l *Ledger) RecordRun(ctx context.Context, run *capture.Run) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		queries := db.New(tx)
		if err := queries.InsertCaptureRun(ctx, runParams(run)); err != nil {
			return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
		}
		for _, params := range resultParams(run) {
			if err := queries.InsertCaptureResult(ctx, params); err != nil {
				return fmt.Errorf("failed to insert result for run %s: %w", run.ID, err)
			}
		}
		return nil
	})
}

func runParams(run *capture.Run) db.InsertCaptureRunParams {
	selectors := run.Selectors
	if selectors == nil {
		selectors = []string{}
	}
	return db.InsertCaptureRunParams{
		ID:           run.ID,
		Kind:         string(run.Kind),
		Selectors:    selectors,
		StartedAt:    pgtype.Timestamptz{Time: run.StartedAt, Valid: true},
		Duration:     Interval(run.Duration),
		ResultCount:  int32(len(run.Results)),
		FailureCount: int32(run.Failures()),
	}
}

func resultParams(run *capture.Run) []db.InsertCaptureResultParams {
	params := make([]db.InsertCaptureResultParams, 0, len(run.Results))
	for i, r := range run.Results {
		params = append(params, db.InsertCaptureResultParams{
			RunID:     run.ID,
			Position:  int32(i),
			Url:       r.Url,
			Selector:  nullable(r.Selector),
			ImagePath: nullable(r.ImagePath),
			ErrorKind: nullable(string(r.ErrorKind)),
			Err:       nullable(r.Error),
		})
	}
	return params
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Interval converts a duration into a Postgres interval, at microsecond precision.
func Interval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: int64(d / time.Microsecond),
		Valid:        true,
	}
}

// RunSummary is a capture run as listed by the API.
type RunSummary struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Selectors    []string  `json:"selectors"`
	StartedAt    time.Time `json:"startedAt"`
	DurationMs   int64     `json:"durationMs"`
	ResultCount  int32     `json:"resultCount"`
	FailureCount int32     `json:"failureCount"`
}

func (l *Ledger) Recent(ctx context.Context, limit int32) ([]RunSummary, error) {
	runs, err := db.New(l.pool).ListRecentCaptureRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, summarize(r))
	}
	return summaries, nil
}

func summarize(r db.CaptureRun) RunSummary {
	return RunSummary{
		ID:           r.ID,
		Kind:         r.Kind,
		Selectors:    r.Selectors,
		StartedAt:    r.StartedAt.Time,
		DurationMs:   r.Duration.Microseconds / 1000,
		ResultCount:  r.ResultCount,
		FailureCount: r.FailureCount,
	}
}

// Prune deletes runs (and their results) older than retention.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return db.New(l.pool).DeleteOldCaptureRuns(ctx, Interval(retention))
}
