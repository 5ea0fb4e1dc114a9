package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

type RunKind string

const (
	RunKindCapture RunKind = "capture"
	RunKindTest    RunKind = "test"
	RunKindBatch   RunKind = "batch"
)

// Run is the record of one Capture, TestSelectors, or BatchCapture call.
type Run struct {
	ID        string
	Kind      RunKind
	Selectors []string
	StartedAt time.Time
	Duration  time.Duration
	Results   []RunResult
}

// RunResult is one row of a Run: a single selector on a single URL, or (with an empty Selector)
// a URL that could not be loaded at all.
type RunResult struct {
	Url       string
	Selector  string
	ImagePath string
	ErrorKind ErrorKind
	Error     string
}

func (r RunResult) OK() bool {
	return r.Error == ""
}

// Recorder persists finished runs, e.g. to the database.
type Recorder interface {
	RecordRun(ctx context.Context, run *Run) error
}

func newRun(kind RunKind, selectors []string) *Run {
	return &Run{
		ID:        newRunID(),
		Kind:      kind,
		Selectors: selectors,
		StartedAt: time.Now(),
	}
}

func (r *Run) addCapture(url string, results []ScreenshotResult, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.Results = append(r.Results, RunResult{Url: url, Error: err.Error()})
		return
	}
	for _, s := range results {
		r.Results = append(r.Results, RunResult{
			Url:       url,
			Selector:  s.Selector,
			ImagePath: s.ImagePath,
			ErrorKind: s.ErrorKind,
			Error:     s.Error,
		})
	}
}

func (r *Run) addTest(url string, results []SelectorTestResult, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.Results = append(r.Results, RunResult{Url: url, Error: err.Error()})
		return
	}
	for _, t := range results {
		row := RunResult{Url: url, Selector: t.Selector}
		switch {
		case t.Error != "":
			row.ErrorKind, row.Error = ErrorKindInvalidSelector, t.Error
		case !t.Exists:
			row.ErrorKind, row.Error = ErrorKindNotFound, t.Message
		case t.VisibleCount == 0:
			row.ErrorKind, row.Error = ErrorKindNotVisible, t.Message
		}
		r.Results = append(r.Results, row)
	}
}

// Failures counts the rows that did not succeed.
func (r *Run) Failures() (n int) {
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

func (e *Engine) record(ctx context.Context, run *Run) {
	run.Duration = time.Since(run.StartedAt)
	slog.Info("run complete",
		"id", run.ID,
		"kind", run.Kind,
		"duration", run.Duration.Round(time.Millisecond),
		"results", len(run.Results),
		"failures", run.Failures())

	if e.recorder == nil {
		return
	}
	// The run already happened; record it even if the caller has gone away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.recorder.RecordRun(ctx, run); err != nil {
		slog.Error("failed to record run", tint.Err(err), "id", run.ID)
	}
}
