package slogdb

import (
	"context"
	"log/slog"
	"sync"

	"chimbori.dev/cropshot/db"
)

// DBHandler is a slog.Handler that copies error-level records into the PostgreSQL `logs` table,
// so that failed captures can be reviewed later. All records still go to the wrapped handler.
type DBHandler struct {
	parent slog.Handler
	conn   db.DBTX
	mu     *sync.Mutex
}

// NewDBHandler wraps parent. conn is usually the shared *pgxpool.Pool.
func NewDBHandler(parent slog.Handler, conn db.DBTX) *DBHandler {
	return &DBHandler{
		parent: parent,
		conn:   conn,
		mu:     &sync.Mutex{},
	}
}

func (h *DBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.parent.Enabled(ctx, level)
}

func (h *DBHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.writeToDatabase(ctx, r)
	}
	return h.parent.Handle(ctx, r)
}

func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DBHandler{parent: h.parent.WithAttrs(attrs), conn: h.conn, mu: h.mu}
}

func (h *DBHandler) WithGroup(name string) slog.Handler {
	return &DBHandler{parent: h.parent.WithGroup(name), conn: h.conn, mu: h.mu}
}

// logParams picks the request & capture attributes that have their own columns.
func logParams(r slog.Record) db.InsertLogParams {
	message := r.Message
	params := db.InsertLogParams{Message: &message}
	str := func(a slog.Attr) *string {
		if s := a.Value.String(); s != "" {
			return &s
		}
		return nil
	}

	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "err":
			params.Err = str(a)
		case "method":
			params.RequestMethod = str(a)
		case "path":
			params.RequestPath = str(a)
		case "url":
			params.Url = str(a)
		case "selector":
			params.Selector = str(a)
		case "status":
			var status int32
			switch a.Value.Kind() {
			case slog.KindInt64:
				status = int32(a.Value.Int64())
			case slog.KindUint64:
				status = int32(a.Value.Uint64())
			default:
				return true
			}
			params.HttpStatus = &status
		}
		return true
	})
	return params
}

func (h *DBHandler) writeToDatabase(ctx context.Context, r slog.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Not ctx: errors logged during shutdown or after a client disconnects must still be written.
	err := db.New(h.conn).InsertLog(context.WithoutCancel(ctx), logParams(r))
	// Reporting this failure at error level would recurse, so it goes straight to the parent.
	if err != nil {
		_ = h.parent.Handle(ctx, slog.NewRecord(r.Time, slog.LevelWarn, "Failed to write log to database", r.PC))
	}
}
