package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/lmittmann/tint"
)

// MaxAgeHandler wraps an HTTP handler to set cache control headers based on file extension.
// Screenshot assets are never rewritten once persisted, so they are cached for 1 year.
func MaxAgeHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch filepath.Ext(req.URL.Path) {
		case ".png", ".webp":
			w.Header().Set("Cache-Control", "max-age=31536000, immutable") // 1 year
		default:
			w.Header().Set("Cache-Control", "no-cache")
		}
		h.ServeHTTP(w, req)
	})
}

// WriteJSON serializes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", tint.Err(err), "status", status)
	}
}
