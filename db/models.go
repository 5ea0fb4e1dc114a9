package db

import "github.com/jackc/pgx/v5/pgtype"

type Log struct {
	ID            int64
	CreatedAt     pgtype.Timestamptz
	RequestMethod *string
	RequestPath   *string
	HttpStatus    *int32
	Url           *string
	Selector      *string
	Message       *string
	Err           *string
}

type CaptureRun struct {
	ID           string
	Kind         string
	Selectors    []string
	StartedAt    pgtype.Timestamptz
	Duration     pgtype.Interval
	ResultCount  int32
	FailureCount int32
}

type CaptureResult struct {
	ID        int64
	RunID     string
	Position  int32
	Url       string
	Selector  *string
	ImagePath *string
	ErrorKind *string
	Err       *string
}
