package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"

	"chimbori.dev/cropshot/capture"
	"chimbori.dev/cropshot/conf"
	"github.com/lmittmann/tint"
)

// stringList collects a repeated flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ", ")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// runOnce captures (or tests) url from the command line, prints the response as JSON to stdout,
// and returns the process exit code.
func runOnce(engine *capture.Engine, url string, selectors []string, testOnly bool) int {
	ctx, cancel := context.WithTimeout(context.Background(), conf.Config.Capture.RequestTimeout)
	defer cancel()

	req := capture.Request{Url: url, Selectors: selectors}
	var resp any
	var err error
	if testOnly {
		resp, err = engine.TestSelectors(ctx, req)
	} else {
		resp, err = engine.Capture(ctx, req)
	}
	if err != nil {
		slog.Error("Capture failed", tint.Err(err), "url", url)
		if errors.Is(err, capture.ErrInvalidInput) {
			return 2
		}
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		slog.Error("Failed to write results", tint.Err(err))
		return 1
	}
	return 0
}
