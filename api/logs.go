package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"chimbori.dev/cropshot/core"
	"chimbori.dev/cropshot/db"
)

const logsPageSize = 50

// LogReader is implemented by *db.Queries.
type LogReader interface {
	CountLogs(ctx context.Context) (int64, error)
	GetRecentLogsPaginated(ctx context.Context, arg db.GetRecentLogsPaginatedParams) ([]db.Log, error)
}

// WithLogReader enables `GET /api/logs`.
func WithLogReader(logs LogReader) Option {
	return func(s *Server) {
		s.logs = logs
	}
}

type logEntry struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Method    *string   `json:"method,omitempty"`
	Path      *string   `json:"path,omitempty"`
	Status    *int32    `json:"status,omitempty"`
	Url       *string   `json:"url,omitempty"`
	Selector  *string   `json:"selector,omitempty"`
	Message   *string   `json:"message,omitempty"`
	Err       *string   `json:"err,omitempty"`
}

// GET /api/logs?page={n}
func (s *Server) handleLogs(w http.ResponseWriter, req *http.Request) {
	page := 1
	if pageStr := req.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	total, err := s.logs.CountLogs(req.Context())
	if err != nil {
		fail(w, req, "Failed to count logs", err)
		return
	}

	rows, err := s.logs.GetRecentLogsPaginated(req.Context(), db.GetRecentLogsPaginatedParams{
		Limit:  logsPageSize,
		Offset: int32((page - 1) * logsPageSize),
	})
	if err != nil {
		fail(w, req, "Failed to list logs", err)
		return
	}

	entries := make([]logEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, logEntry{
			ID:        r.ID,
			CreatedAt: r.CreatedAt.Time,
			Method:    r.RequestMethod,
			Path:      r.RequestPath,
			Status:    r.HttpStatus,
			Url:       r.Url,
			Selector:  r.Selector,
			Message:   r.Message,
			Err:       r.Err,
		})
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"page":    page,
		"total":   total,
		"logs":    entries,
	})
}
