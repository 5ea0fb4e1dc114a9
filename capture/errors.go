package capture

import (
	"errors"
	"fmt"
)

var ErrInvalidInput = errors.New("invalid input")

func invalidInput(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, a...))
}

// ErrorKind classifies why a single selector could not be captured.
type ErrorKind string

const (
	ErrorKindNotFound        ErrorKind = "not_found"
	ErrorKindNotVisible      ErrorKind = "not_visible"
	ErrorKindCaptureFailed   ErrorKind = "capture_failed"
	ErrorKindInvalidSelector ErrorKind = "invalid_selector"
	ErrorKindCancelled       ErrorKind = "cancelled"
)

// SessionError is a failure that ends the whole page session: the browser would not start, or the
// page would not load. Selector-level failures are reported as data in ScreenshotResult instead.
type SessionError struct {
	Op    string // "launch" or "navigate"
	Url   string
	Cause error
}

func (e *SessionError) Error() string {
	if e.Op == "launch" {
		return fmt.Sprintf("failed to launch browser: %v", e.Cause)
	}
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Url, e.Cause)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

func notFound(selector string) ScreenshotResult {
	return ScreenshotResult{
		Selector:  selector,
		ErrorKind: ErrorKindNotFound,
		Error: fmt.Sprintf("Selector '%s' does not exist on the page. "+
			"Please check your selector for typos or wait longer for dynamic content to load.", selector),
	}
}

func notVisible(selector string, count int) ScreenshotResult {
	return ScreenshotResult{
		Selector:  selector,
		ErrorKind: ErrorKindNotVisible,
		Error: fmt.Sprintf("Found %d elements with selector '%s', but none are visible. "+
			"The element may be hidden or have zero dimensions.", count, selector),
	}
}

func captureFailed(selector string, count int, cause error) ScreenshotResult {
	return ScreenshotResult{
		Selector:  selector,
		ErrorKind: ErrorKindCaptureFailed,
		Error:     fmt.Sprintf("Found %d elements with selector '%s', but the screenshot failed: %v", count, selector, cause),
	}
}

// locateFailed is a capture failure where the page could not even be asked what selector matches.
func locateFailed(selector string, cause error) ScreenshotResult {
	return ScreenshotResult{
		Selector:  selector,
		ErrorKind: ErrorKindCaptureFailed,
		Error:     fmt.Sprintf("Could not inspect selector '%s' on the page: %v", selector, cause),
	}
}

func invalidSelector(selector string, reason string) ScreenshotResult {
	return ScreenshotResult{
		Selector:  selector,
		ErrorKind: ErrorKindInvalidSelector,
		Error:     fmt.Sprintf("Selector '%s' is not a valid CSS selector: %s", selector, reason),
	}
}

func cancelled(selector string, cause error) ScreenshotResult {
	return ScreenshotResult{
		Selector:  selector,
		ErrorKind: ErrorKindCancelled,
		Error:     fmt.Sprintf("Capture of selector '%s' was cancelled: %v", selector, cause),
	}
}
