// Package api serves the capture engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chimbori.dev/cropshot/capture"
	"chimbori.dev/cropshot/core"
	"chimbori.dev/cropshot/ledger"
	"github.com/justinas/alice"
	"github.com/lmittmann/tint"
)

// Engine is implemented by *capture.Engine.
type Engine interface {
	Capture(ctx context.Context, req capture.Request) (capture.CaptureResponse, error)
	TestSelectors(ctx context.Context, req capture.Request) (capture.TestResponse, error)
	BatchCapture(ctx context.Context, req capture.BatchRequest) (capture.BatchResponse, error)
}

// RunLister is implemented by *ledger.Ledger.
type RunLister interface {
	Recent(ctx context.Context, limit int32) ([]ledger.RunSummary, error)
}

const maxBodyBytes = 1 << 20

type Server struct {
	engine         Engine
	runs           RunLister
	logs           LogReader
	sessions       chan struct{}
	requestTimeout time.Duration
}

type Option func(*Server)

// WithMaxSessions bounds how many browser-backed requests may run at once.
func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sessions = make(chan struct{}, n)
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithRunLister enables `GET /api/runs`.
func WithRunLister(runs RunLister) Option {
	return func(s *Server) {
		s.runs = runs
	}
}

func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:         engine,
		sessions:       make(chan struct{}, 2),
		requestTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Init(mux *http.ServeMux) {
	chain := alice.New(logRequests, s.withTimeout, s.limitSessions)

	mux.Handle("POST /api/screenshot", chain.ThenFunc(s.handleScreenshot))
	mux.Handle("POST /api/batch-screenshot", chain.ThenFunc(s.handleBatchScreenshot))
	mux.Handle("POST /api/test-selectors", chain.ThenFunc(s.handleTestSelectors))

	if s.runs != nil {
		mux.Handle("GET /api/runs", alice.New(logRequests).ThenFunc(s.handleRuns))
	}
	if s.logs != nil {
		mux.Handle("GET /api/logs", alice.New(logRequests).ThenFunc(s.handleLogs))
	}
}

// POST /api/screenshot
func (s *Server) handleScreenshot(w http.ResponseWriter, req *http.Request) {
	var body capture.Request
	if !decode(w, req, &body) {
		return
	}
	if body.Url == "" || len(body.Selectors) == 0 {
		badRequest(w, req, "URL and at least one CSS selector are required")
		return
	}

	slog.Info("capturing", "url", body.Url, "selectors", len(body.Selectors))
	resp, err := s.engine.Capture(req.Context(), body)
	if err != nil {
		fail(w, req, "Failed to take screenshots", err)
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"screenshots": resp.Screenshots,
	})
}

// POST /api/batch-screenshot
func (s *Server) handleBatchScreenshot(w http.ResponseWriter, req *http.Request) {
	var body capture.BatchRequest
	if !decode(w, req, &body) {
		return
	}
	if len(body.Urls) == 0 || len(body.Selectors) == 0 {
		badRequest(w, req, "At least one URL and one CSS selector are required")
		return
	}

	slog.Info("batch capture", "urls", len(body.Urls), "selectors", len(body.Selectors))
	resp, err := s.engine.BatchCapture(req.Context(), body)
	if err != nil {
		fail(w, req, "Failed to process batch job", err)
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"batchResults": resp.BatchResults,
	})
}

// POST /api/test-selectors
func (s *Server) handleTestSelectors(w http.ResponseWriter, req *http.Request) {
	var body capture.Request
	if !decode(w, req, &body) {
		return
	}
	if body.Url == "" || len(body.Selectors) == 0 {
		badRequest(w, req, "URL and at least one CSS selector are required")
		return
	}

	slog.Info("testing selectors", "url", body.Url, "selectors", len(body.Selectors))
	resp, err := s.engine.TestSelectors(req.Context(), body)
	if err != nil {
		fail(w, req, "Failed to test selectors", err)
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": resp.Results,
	})
}

// GET /api/runs?limit={n}
func (s *Server) handleRuns(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if l := req.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 1000 {
			badRequest(w, req, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	runs, err := s.runs.Recent(req.Context(), int32(limit))
	if err != nil {
		fail(w, req, "Failed to list runs", err)
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"runs":    runs,
	})
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		badRequest(w, req, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, req *http.Request, message string) {
	slog.Warn("bad request", "method", req.Method, "path", req.URL.Path, "status", http.StatusBadRequest, "err", message)
	core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// fail maps invalid input to a 400, and everything else to a 500.
func fail(w http.ResponseWriter, req *http.Request, summary string, err error) {
	if errors.Is(err, capture.ErrInvalidInput) {
		badRequest(w, req, err.Error())
		return
	}
	status := http.StatusInternalServerError
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	slog.Error(summary, tint.Err(err), "method", req.Method, "path", req.URL.Path, "status", status)
	core.WriteJSON(w, status, map[string]string{
		"error":   summary,
		"message": err.Error(),
	})
}
