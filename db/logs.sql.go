package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertLog = `INSERT INTO logs (request_method, request_path, http_status, url, selector, message, err)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

type InsertLogParams struct {
	RequestMethod *string
	RequestPath   *string
	HttpStatus    *int32
	Url           *string
	Selector      *string
	Message       *string
	Err           *string
}

func (q *Queries) InsertLog(ctx context.Context, arg InsertLogParams) error {
	_, err := q.db.Exec(ctx, insertLog,
		arg.RequestMethod,
		arg.RequestPath,
		arg.HttpStatus,
		arg.Url,
		arg.Selector,
		arg.Message,
		arg.Err,
	)
	return err
}

const getRecentLogs = `SELECT id, created_at, request_method, request_path, http_status, url, selector, message, err
FROM logs
ORDER BY created_at DESC, id DESC
LIMIT $1`

func (q *Queries) GetRecentLogs(ctx context.Context, limit int32) ([]Log, error) {
	rows, err := q.db.Query(ctx, getRecentLogs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Log
	for rows.Next() {
		var i Log
		if err := rows.Scan(
			&i.ID,
			&i.CreatedAt,
			&i.RequestMethod,
			&i.RequestPath,
			&i.HttpStatus,
			&i.Url,
			&i.Selector,
			&i.Message,
			&i.Err,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteOldLogs = `DELETE FROM logs WHERE created_at < now() - $1::interval`

func (q *Queries) DeleteOldLogs(ctx context.Context, retention pgtype.Interval) (int64, error) {
	result, err := q.db.Exec(ctx, deleteOldLogs, retention)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const countLogs = `SELECT count(*) FROM logs`

func (q *Queries) CountLogs(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countLogs).Scan(&count)
	return count, err
}

const getRecentLogsPaginated = `SELECT id, created_at, request_method, request_path, http_status, url, selector, message, err
FROM logs
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`

type GetRecentLogsPaginatedParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) GetRecentLogsPaginated(ctx context.Context, arg GetRecentLogsPaginatedParams) ([]Log, error) {
	rows, err := q.db.Query(ctx, getRecentLogsPaginated, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Log
	for rows.Next() {
		var i Log
		if err := rows.Scan(
			&i.ID,
			&i.CreatedAt,
			&i.RequestMethod,
			&i.RequestPath,
			&i.HttpStatus,
			&i.Url,
			&i.Selector,
			&i.Message,
			&i.Err,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
