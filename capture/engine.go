// Package capture turns a URL and a list of CSS selectors into per-selector screenshots or
// diagnostics. All work within a request is sequential: one page, one selector at a time.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"chimbori.dev/cropshot/browser"
	"chimbori.dev/cropshot/validation"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// Page is a loaded browser page; *browser.Session satisfies it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Locate(ctx context.Context, selector string) (browser.Location, error)
	MarkTarget(ctx context.Context, selector string) (*browser.Target, error)
	CaptureTarget(ctx context.Context, t *browser.Target) ([]byte, error)
	MeasureImages(ctx context.Context, t *browser.Target) ([]browser.ImageMeasurement, error)
	ReleaseTarget(ctx context.Context, t *browser.Target) error
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context, viewport browser.Viewport) (Page, error)
}

type LauncherFunc func(ctx context.Context, viewport browser.Viewport) (Page, error)

func (f LauncherFunc) Launch(ctx context.Context, viewport browser.Viewport) (Page, error) {
	return f(ctx, viewport)
}

// ChromeLauncher adapts a browser.Launcher to a capture Launcher.
func ChromeLauncher(l *browser.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context, viewport browser.Viewport) (Page, error) {
		s, err := l.Launch(ctx, viewport)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// AssetStore persists captured PNGs and returns the path at which each can be fetched.
type AssetStore interface {
	Persist(ctx context.Context, selectorIndex int, png []byte) (string, error)
}

type Config struct {
	SelectorTimeout time.Duration // How long to wait for a selector to match anything.
	DefaultWait     time.Duration // Post-navigation delay when a request doesn’t specify one.
	PollInterval    time.Duration
}

type Engine struct {
	launcher Launcher
	store    AssetStore
	config   Config
	recorder Recorder
}

type Option func(*Engine)

// WithRecorder records every run; without it, runs are only logged.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

func NewEngine(launcher Launcher, store AssetStore, config Config, opts ...Option) *Engine {
	if config.SelectorTimeout <= 0 {
		config.SelectorTimeout = 10 * time.Second
	}
	if config.DefaultWait < 0 {
		config.DefaultWait = 0
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	e := &Engine{
		launcher: launcher,
		store:    store,
		config:   config,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// page settings after defaults are applied & validated.
type pageSettings struct {
	viewport browser.Viewport
	wait     time.Duration
}

func (e *Engine) settings(viewport *browser.Viewport, waitTime *int) (pageSettings, error) {
	s := pageSettings{viewport: DefaultViewport, wait: e.config.DefaultWait}
	if viewport != nil {
		if viewport.Width != 0 {
			s.viewport.Width = viewport.Width
		}
		if viewport.Height != 0 {
			s.viewport.Height = viewport.Height
		}
	}
	if s.viewport.Width < MinViewportSize || s.viewport.Height < MinViewportSize {
		return s, invalidInput("viewport must be at least %dx%d", MinViewportSize, MinViewportSize)
	}
	if waitTime != nil {
		if *waitTime < 0 {
			return s, invalidInput("waitTime must not be negative")
		}
		s.wait = time.Duration(*waitTime) * time.Millisecond
	}
	return s, nil
}

func validateSelectors(selectors []string) error {
	if len(selectors) == 0 {
		return invalidInput("at least one selector is required")
	}
	for i, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			return invalidInput("selector %d is empty", i)
		}
	}
	return nil
}

func validateUrl(userUrl string) (string, error) {
	u, _, err := validation.ValidateUrl(userUrl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return u, nil
}

// Capture loads req.Url and captures each selector in order.
func (e *Engine) Capture(ctx context.Context, req Request) (CaptureResponse, error) {
	url, err := validateUrl(req.Url)
	if err != nil {
		return CaptureResponse{}, err
	}
	if err := validateSelectors(req.Selectors); err != nil {
		return CaptureResponse{}, err
	}
	settings, err := e.settings(req.Viewport, req.WaitTime)
	if err != nil {
		return CaptureResponse{}, err
	}

	run := newRun(RunKindCapture, req.Selectors)
	var results []ScreenshotResult
	err = e.withPage(ctx, url, settings, func(page Page) {
		results = e.CaptureAll(ctx, page, req.Selectors)
	})
	run.addCapture(url, results, err)
	e.record(ctx, run)
	if err != nil {
		return CaptureResponse{}, err
	}
	return CaptureResponse{Screenshots: results}, nil
}

// TestSelectors loads req.Url and reports what each selector matches, without capturing.
func (e *Engine) TestSelectors(ctx context.Context, req Request) (TestResponse, error) {
	url, err := validateUrl(req.Url)
	if err != nil {
		return TestResponse{}, err
	}
	if err := validateSelectors(req.Selectors); err != nil {
		return TestResponse{}, err
	}
	settings, err := e.settings(req.Viewport, req.WaitTime)
	if err != nil {
		return TestResponse{}, err
	}

	run := newRun(RunKindTest, req.Selectors)
	var results []SelectorTestResult
	err = e.withPage(ctx, url, settings, func(page Page) {
		results = e.TestAll(ctx, page, req.Selectors)
	})
	run.addTest(url, results, err)
	e.record(ctx, run)
	if err != nil {
		return TestResponse{}, err
	}
	return TestResponse{Results: results}, nil
}

// BatchCapture captures the same selectors on each URL in turn. A URL that fails to load is
// reported in its own BatchResult, and does not stop the batch.
func (e *Engine) BatchCapture(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	if len(req.Urls) == 0 {
		return BatchResponse{}, invalidInput("at least one url is required")
	}
	if err := validateSelectors(req.Selectors); err != nil {
		return BatchResponse{}, err
	}
	settings, err := e.settings(req.Viewport, req.WaitTime)
	if err != nil {
		return BatchResponse{}, err
	}

	run := newRun(RunKindBatch, req.Selectors)
	results := e.RunBatch(ctx, req.Urls, req.Selectors, settings.viewport, settings.wait, run)
	e.record(ctx, run)
	return BatchResponse{BatchResults: results}, nil
}

// RunBatch runs one full session per URL, in order. Each BatchResult carries the URL exactly as
// given, so callers can match results to their input. run may be nil.
func (e *Engine) RunBatch(ctx context.Context, urls []string, selectors []string, viewport browser.Viewport, wait time.Duration, run *Run) []BatchResult {
	results := make([]BatchResult, 0, len(urls))
	settings := pageSettings{viewport: viewport, wait: wait}

	for _, userUrl := range urls {
		url, err := validateUrl(userUrl)
		if err != nil {
			results = append(results, BatchResult{Url: userUrl, Error: err.Error()})
			run.addCapture(userUrl, nil, err)
			continue
		}
		if ctx.Err() != nil {
			err := &SessionError{Op: "navigate", Url: url, Cause: ctx.Err()}
			results = append(results, BatchResult{Url: userUrl, Error: err.Error()})
			run.addCapture(url, nil, err)
			continue
		}

		var shots []ScreenshotResult
		err = e.withPage(ctx, url, settings, func(page Page) {
			shots = e.CaptureAll(ctx, page, selectors)
		})
		run.addCapture(url, shots, err)
		if err != nil {
			slog.Error("batch url failed", tint.Err(err), "url", url)
			results = append(results, BatchResult{Url: userUrl, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{Url: userUrl, Success: true, Screenshots: shots})
	}
	return results
}

// withPage launches a browser, loads url, waits, and runs fn against the page. The browser is
// always closed before withPage returns. Errors are session-fatal, and are always *SessionError.
func (e *Engine) withPage(ctx context.Context, url string, settings pageSettings, fn func(Page)) error {
	page, err := e.launcher.Launch(ctx, settings.viewport)
	if err != nil {
		return &SessionError{Op: "launch", Url: url, Cause: err}
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.Warn("failed to close browser", tint.Err(err), "url", url)
		}
	}()

	slog.Info("navigating", "url", url)
	if err := page.Navigate(ctx, url); err != nil {
		return &SessionError{Op: "navigate", Url: url, Cause: err}
	}

	slog.Debug("waiting for client-side rendering", "url", url, "wait", settings.wait)
	if err := sleep(ctx, settings.wait); err != nil {
		return &SessionError{Op: "navigate", Url: url, Cause: err}
	}

	fn(page)
	return nil
}

// CaptureAll captures each selector in order; every selector yields exactly one result.
// If ctx ends partway, the remaining selectors are reported as cancelled.
func (e *Engine) CaptureAll(ctx context.Context, page Page, selectors []string) []ScreenshotResult {
	e.logPresence(ctx, page, selectors)

	results := make([]ScreenshotResult, 0, len(selectors))
	for i, selector := range selectors {
		if err := ctx.Err(); err != nil {
			results = append(results, cancelled(selector, err))
			continue
		}
		result := e.captureOne(ctx, page, i, selector)
		if !result.OK() {
			slog.Warn("selector not captured", "selector", selector, "kind", result.ErrorKind, "err", result.Error)
		}
		results = append(results, result)
	}
	return results
}

// logPresence writes a quick existence check for every selector to the debug log.
func (e *Engine) logPresence(ctx context.Context, page Page, selectors []string) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	for _, selector := range selectors {
		loc, err := page.Locate(ctx, selector)
		if err != nil {
			slog.Debug("selector presence check failed", tint.Err(err), "selector", selector)
			return
		}
		slog.Debug("selector presence check", "selector", selector, "present", loc.Exists, "count", loc.Count)
	}
}

func (e *Engine) captureOne(ctx context.Context, page Page, index int, selector string) ScreenshotResult {
	loc, err := e.waitForSelector(ctx, page, selector)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(selector, ctxErr)
		}
		return locateFailed(selector, err)
	}
	switch {
	case loc.Error != "":
		return invalidSelector(selector, loc.Error)
	case !loc.Exists:
		return notFound(selector)
	case loc.VisibleCount == 0:
		return notVisible(selector, loc.Count)
	}

	result, err := e.captureVisible(ctx, page, index, selector)
	if err == nil {
		return result
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cancelled(selector, ctxErr)
	}
	// The page may have changed underneath us, so classify against what is there now.
	return e.classify(ctx, page, selector, err)
}

// waitForSelector polls until selector matches at least one element, the selector timeout
// elapses, or the selector turns out to be invalid. The last Location seen is returned.
func (e *Engine) waitForSelector(ctx context.Context, page Page, selector string) (browser.Location, error) {
	deadline := time.Now().Add(e.config.SelectorTimeout)
	for {
		loc, err := page.Locate(ctx, selector)
		if err != nil {
			return loc, err
		}
		if loc.Exists || loc.Error != "" || !time.Now().Before(deadline) {
			return loc, nil
		}
		if err := sleep(ctx, min(e.config.PollInterval, time.Until(deadline))); err != nil {
			return loc, err
		}
	}
}

func (e *Engine) captureVisible(ctx context.Context, page Page, index int, selector string) (ScreenshotResult, error) {
	target, err := page.MarkTarget(ctx, selector)
	if err != nil {
		return ScreenshotResult{}, err
	}
	if target == nil {
		return ScreenshotResult{}, errNoVisibleTarget
	}
	defer func() {
		// Restore even if ctx has ended, so the page is left as it was found.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := page.ReleaseTarget(releaseCtx, target); err != nil {
			slog.Warn("failed to restore element styles", tint.Err(err), "selector", selector)
		}
	}()

	png, err := page.CaptureTarget(ctx, target)
	if err != nil {
		return ScreenshotResult{}, err
	}
	path, err := e.store.Persist(ctx, index, png)
	if err != nil {
		return ScreenshotResult{}, fmt.Errorf("failed to save screenshot: %w", err)
	}

	result := ScreenshotResult{
		Selector:  selector,
		ImagePath: path,
		Width:     target.Rect.Width,
		Height:    target.Rect.Height,
	}

	images, err := page.MeasureImages(ctx, target)
	if err != nil {
		// The screenshot itself is fine; only the diagnostics are missing.
		slog.Warn("failed to measure nested images", tint.Err(err), "selector", selector)
		return result, nil
	}
	for _, img := range images {
		result.NestedImages = append(result.NestedImages, measureStretch(img))
	}
	return result, nil
}

var errNoVisibleTarget = errors.New("no visible element to capture")

func (e *Engine) classify(ctx context.Context, page Page, selector string, cause error) ScreenshotResult {
	loc, err := page.Locate(ctx, selector)
	switch {
	case err != nil:
		return locateFailed(selector, cause)
	case loc.Error != "":
		return invalidSelector(selector, loc.Error)
	case !loc.Exists:
		return notFound(selector)
	case loc.VisibleCount == 0:
		return notVisible(selector, loc.Count)
	default:
		return captureFailed(selector, loc.Count, cause)
	}
}

// TestAll reports what each selector matches. It never captures or persists anything.
func (e *Engine) TestAll(ctx context.Context, page Page, selectors []string) []SelectorTestResult {
	results := make([]SelectorTestResult, 0, len(selectors))
	for _, selector := range selectors {
		results = append(results, testOne(ctx, page, selector))
	}
	return results
}

func testOne(ctx context.Context, page Page, selector string) SelectorTestResult {
	if err := ctx.Err(); err != nil {
		return SelectorTestResult{
			Selector: selector,
			Error:    err.Error(),
			Message:  fmt.Sprintf("Error testing selector: %v", err),
		}
	}
	loc, err := page.Locate(ctx, selector)
	if err != nil {
		return SelectorTestResult{
			Selector: selector,
			Error:    err.Error(),
			Message:  fmt.Sprintf("Error testing selector: %v", err),
		}
	}
	if loc.Error != "" {
		return SelectorTestResult{
			Selector: selector,
			Error:    loc.Error,
			Message:  fmt.Sprintf("Error testing selector: %s", loc.Error),
		}
	}
	if !loc.Exists {
		return SelectorTestResult{
			Selector: selector,
			Message:  "Selector not found on page",
		}
	}

	result := SelectorTestResult{
		Selector:     selector,
		Exists:       true,
		Count:        loc.Count,
		VisibleCount: loc.VisibleCount,
		Message:      fmt.Sprintf("Found %d element(s), %d visible", loc.Count, loc.VisibleCount),
	}
	if loc.First != nil {
		result.Dimensions = &Dimensions{
			Width:  int(math.Round(loc.First.Width)),
			Height: int(math.Round(loc.First.Height)),
		}
	}
	return result
}

// sleep waits for d, or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRunID() string {
	return uuid.NewString()
}
