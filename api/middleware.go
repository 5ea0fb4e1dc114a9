package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"chimbori.dev/cropshot/core"
	"github.com/lmittmann/tint"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"from", core.ReadUserIP(req),
			"duration", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.requestTimeout <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// limitSessions holds one slot of the session semaphore for the duration of the request. A request
// that cannot get a slot before its context ends is turned away with a 503.
func (s *Server) limitSessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		select {
		case s.sessions <- struct{}{}:
		case <-req.Context().Done():
			err := req.Context().Err()
			slog.Warn("no browser session available", tint.Err(err),
				"method", req.Method,
				"path", req.URL.Path,
				"status", http.StatusServiceUnavailable)
			core.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":   "Too many concurrent captures",
				"message": err.Error(),
			})
			return
		}
		defer func() { <-s.sessions }()
		next.ServeHTTP(w, req)
	})
}
