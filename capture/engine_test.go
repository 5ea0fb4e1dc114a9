package capture

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"chimbori.dev/cropshot/browser"
	"chimbori.dev/cropshot/core"
)

func standardElements() map[string]*fakeElement {
	return map[string]*fakeElement{
		".ok":      {count: 2, visible: 1, rect: browser.Rect{Width: 120.5, Height: 40.25}},
		".hidden":  {count: 3, visible: 0},
		"div[":     {invalid: "'div[' is not a valid selector"},
		".broken":  {count: 1, visible: 1, rect: browser.Rect{Width: 10, Height: 10}, captureErr: errBoom},
		".sized":   {count: 1, visible: 1, rect: browser.Rect{Width: 100.6, Height: 49.4}},
		"#missing": nil,
	}
}

func newTestEngine(elements func() map[string]*fakeElement, opts ...Option) (*Engine, *fakeLauncher, *fakeStore) {
	launcher := &fakeLauncher{newPage: func() *fakePage {
		els := elements()
		for k, v := range els {
			if v == nil {
				delete(els, k)
			}
		}
		return newFakePage(els)
	}}
	store := &fakeStore{}
	engine := NewEngine(launcher, store, Config{
		SelectorTimeout: 20 * time.Millisecond,
		PollInterval:    time.Millisecond,
	}, opts...)
	return engine, launcher, store
}

func TestCapture_OrderAndClassification(t *testing.T) {
	engine, launcher, store := newTestEngine(standardElements)

	selectors := []string{".ok", "#missing", ".hidden", "div[", ".broken", ".ok"}
	resp, err := engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: selectors})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	wantKinds := []ErrorKind{"", ErrorKindNotFound, ErrorKindNotVisible, ErrorKindInvalidSelector, ErrorKindCaptureFailed, ""}
	if len(resp.Screenshots) != len(selectors) {
		t.Fatalf("Expected %d results, got %d", len(selectors), len(resp.Screenshots))
	}
	for i, r := range resp.Screenshots {
		if r.Selector != selectors[i] {
			t.Errorf("Result %d: expected selector %q, got %q", i, selectors[i], r.Selector)
		}
		if r.ErrorKind != wantKinds[i] {
			t.Errorf("Result %d (%s): expected kind %q, got %q", i, r.Selector, wantKinds[i], r.ErrorKind)
		}
		hasSuccess := r.ImagePath != "" || r.Width != 0 || r.Height != 0 || r.NestedImages != nil
		hasError := r.Error != "" || r.ErrorKind != ""
		if hasSuccess == hasError {
			t.Errorf("Result %d (%s): expected exactly one of success or error, got %+v", i, r.Selector, r)
		}
	}

	if got := resp.Screenshots[0]; got.Width != 120.5 || got.Height != 40.25 {
		t.Errorf("Expected unrounded dimensions, got %vx%v", got.Width, got.Height)
	}
	if !strings.Contains(resp.Screenshots[2].Error, "Found 3 elements with selector '.hidden', but none are visible") {
		t.Errorf("Unexpected not-visible message: %s", resp.Screenshots[2].Error)
	}
	if !strings.Contains(resp.Screenshots[4].Error, "boom") {
		t.Errorf("Expected capture failure to preserve the cause, got: %s", resp.Screenshots[4].Error)
	}

	if store.count() != 2 {
		t.Errorf("Expected 2 persisted screenshots, got %d", store.count())
	}
	page := launcher.pages[0]
	if page.closed != 1 {
		t.Errorf("Expected the page to be closed once, got %d", page.closed)
	}
	if page.marked != page.released {
		t.Errorf("Expected every marked target to be released: %d marked, %d released", page.marked, page.released)
	}
	if launcher.viewports[0] != DefaultViewport {
		t.Errorf("Expected default viewport, got %+v", launcher.viewports[0])
	}
}

func TestCapture_StretchDetection(t *testing.T) {
	engine, _, _ := newTestEngine(func() map[string]*fakeElement {
		return map[string]*fakeElement{
			".card": {count: 1, visible: 1, rect: browser.Rect{Width: 300, Height: 100}, images: []browser.ImageMeasurement{
				{Src: "https://example.com/a.png", RenderedWidth: 200, RenderedHeight: 50, NaturalWidth: 100, NaturalHeight: 50},
				{Src: "https://example.com/b.png", RenderedWidth: 50, RenderedHeight: 50, NaturalWidth: 100, NaturalHeight: 100},
			}},
		}
	})

	resp, err := engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: []string{".card"}})
	if err != nil {
		t.Fatal(err)
	}
	images := resp.Screenshots[0].NestedImages
	if len(images) != 2 {
		t.Fatalf("Expected 2 nested images, got %d", len(images))
	}

	stretched := images[0]
	if !stretched.IsStretched {
		t.Error("Expected 100x50 rendered at 200x50 to be stretched")
	}
	if stretched.WidthScaling != (Scaling{Value: 2, Known: true}) || stretched.HeightScaling != (Scaling{Value: 1, Known: true}) {
		t.Errorf("Unexpected scaling: %+v, %+v", stretched.WidthScaling, stretched.HeightScaling)
	}
	if stretched.AspectRatio != 4 {
		t.Errorf("Expected aspect ratio 4, got %v", stretched.AspectRatio)
	}
	if images[1].IsStretched {
		t.Error("Expected a downscaled image to not be stretched")
	}
}

func TestMeasureStretch_ZeroSizes(t *testing.T) {
	info := measureStretch(browser.ImageMeasurement{RenderedWidth: 10, RenderedHeight: 0, NaturalWidth: 0, NaturalHeight: 0})
	if info.AspectRatio != 0 {
		t.Errorf("Expected aspect ratio 0 for zero height, got %v", info.AspectRatio)
	}
	if info.WidthScaling.Known || info.HeightScaling.Known {
		t.Error("Expected unknown scaling when natural size is zero")
	}
}

func TestScaling_JSON(t *testing.T) {
	b, err := json.Marshal(NestedImageInfo{WidthScaling: Scaling{Value: 2, Known: true}})
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"widthScaling":2`) || !strings.Contains(s, `"heightScaling":"Unknown"`) {
		t.Errorf("Unexpected JSON: %s", s)
	}

	var decoded NestedImageInfo
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.WidthScaling != (Scaling{Value: 2, Known: true}) || decoded.HeightScaling.Known {
		t.Errorf("Unexpected round trip: %+v", decoded)
	}
}

func TestTestSelectors_DoesNotCapture(t *testing.T) {
	engine, launcher, store := newTestEngine(standardElements)

	selectors := []string{".sized", "#missing", ".hidden", "div["}
	resp, err := engine.TestSelectors(context.Background(), Request{Url: "https://example.com", Selectors: selectors})
	if err != nil {
		t.Fatal(err)
	}
	if store.count() != 0 || launcher.pages[0].marked != 0 {
		t.Error("Expected test mode to neither mark nor persist anything")
	}

	r := resp.Results
	if len(r) != len(selectors) {
		t.Fatalf("Expected %d results, got %d", len(selectors), len(r))
	}
	if r[0].Dimensions == nil || *r[0].Dimensions != (Dimensions{Width: 101, Height: 49}) {
		t.Errorf("Expected rounded dimensions 101x49, got %+v", r[0].Dimensions)
	}
	if r[0].Message != "Found 1 element(s), 1 visible" {
		t.Errorf("Unexpected message: %s", r[0].Message)
	}
	if r[1].Exists || r[1].Message != "Selector not found on page" {
		t.Errorf("Unexpected missing result: %+v", r[1])
	}
	if !r[2].Exists || r[2].VisibleCount != 0 || r[2].Dimensions != nil {
		t.Errorf("Unexpected hidden result: %+v", r[2])
	}
	if r[3].Error == "" {
		t.Errorf("Expected an error for an invalid selector: %+v", r[3])
	}
	if launcher.pages[0].closed != 1 {
		t.Error("Expected the page to be closed")
	}
}

func TestVisibilityConsistency(t *testing.T) {
	engine, _, _ := newTestEngine(standardElements)
	req := Request{Url: "https://example.com", Selectors: []string{".ok", ".hidden", "#missing"}}

	tested, err := engine.TestSelectors(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	captured, err := engine.Capture(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	for i := range req.Selectors {
		notVisible := tested.Results[i].Exists && tested.Results[i].VisibleCount == 0
		if notVisible != (captured.Screenshots[i].ErrorKind == ErrorKindNotVisible) {
			t.Errorf("%s: test mode and capture disagree on visibility", req.Selectors[i])
		}
	}
}

func TestCapture_WaitsForSelector(t *testing.T) {
	engine, _, _ := newTestEngine(func() map[string]*fakeElement {
		return map[string]*fakeElement{
			".late": {count: 1, visible: 1, rect: browser.Rect{Width: 5, Height: 5}, appearsAt: 3},
		}
	})
	engine.config.SelectorTimeout = time.Second

	resp, err := engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: []string{".late"}})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Screenshots[0].OK() {
		t.Errorf("Expected a late element to be captured, got: %s", resp.Screenshots[0].Error)
	}
}

func TestCapture_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty url", Request{Selectors: []string{"a"}}},
		{"bad scheme", Request{Url: "ftp://example.com", Selectors: []string{"a"}}},
		{"no selectors", Request{Url: "https://example.com"}},
		{"blank selector", Request{Url: "https://example.com", Selectors: []string{"a", " "}}},
		{"narrow viewport", Request{Url: "https://example.com", Selectors: []string{"a"}, Viewport: &browser.Viewport{Width: 100}}},
		{"negative wait", Request{Url: "https://example.com", Selectors: []string{"a"}, WaitTime: core.Ptr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, launcher, _ := newTestEngine(standardElements)
			if _, err := engine.Capture(context.Background(), tt.req); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Capture: expected ErrInvalidInput, got %v", err)
			}
			if _, err := engine.TestSelectors(context.Background(), tt.req); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("TestSelectors: expected ErrInvalidInput, got %v", err)
			}
			if launcher.launches() != 0 {
				t.Errorf("Expected no browser launches, got %d", launcher.launches())
			}
		})
	}

	engine, launcher, _ := newTestEngine(standardElements)
	if _, err := engine.BatchCapture(context.Background(), BatchRequest{Selectors: []string{"a"}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("BatchCapture: expected ErrInvalidInput for no urls, got %v", err)
	}
	if launcher.launches() != 0 {
		t.Errorf("Expected no browser launches, got %d", launcher.launches())
	}
}

func TestCapture_PartialViewport(t *testing.T) {
	engine, launcher, _ := newTestEngine(standardElements)
	_, err := engine.Capture(context.Background(), Request{
		Url:       "https://example.com",
		Selectors: []string{".ok"},
		Viewport:  &browser.Viewport{Width: 375},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := (browser.Viewport{Width: 375, Height: 800}); launcher.viewports[0] != want {
		t.Errorf("Expected %+v, got %+v", want, launcher.viewports[0])
	}
}

func TestCapture_SessionErrors(t *testing.T) {
	engine, launcher, _ := newTestEngine(standardElements)
	launcher.launchErr = errBoom

	_, err := engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: []string{".ok"}})
	var sessionErr *SessionError
	if !errors.As(err, &sessionErr) || sessionErr.Op != "launch" || !errors.Is(err, errBoom) {
		t.Errorf("Expected a launch SessionError wrapping the cause, got %v", err)
	}

	engine, launcher, _ = newTestEngine(standardElements)
	launcher.newPage = func() *fakePage {
		p := newFakePage(nil)
		p.navErr = errBoom
		return p
	}
	_, err = engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: []string{".ok"}})
	if !errors.As(err, &sessionErr) || sessionErr.Op != "navigate" {
		t.Errorf("Expected a navigate SessionError, got %v", err)
	}
	if launcher.pages[0].closed != 1 {
		t.Error("Expected the page to be closed after a navigation failure")
	}
}

func TestBatchCapture_Isolation(t *testing.T) {
	engine, launcher, _ := newTestEngine(standardElements)
	base := launcher.newPage
	launcher.newPage = func() *fakePage {
		p := base()
		if len(launcher.pages) == 1 {
			p.navErr = errBoom // Second launched page.
		}
		return p
	}

	urls := []string{"https://a.example", "https://b.example", "ftp://c.example", "https://d.example"}
	resp, err := engine.BatchCapture(context.Background(), BatchRequest{Urls: urls, Selectors: []string{".ok", "#missing"}})
	if err != nil {
		t.Fatal(err)
	}

	got := resp.BatchResults
	if len(got) != len(urls) {
		t.Fatalf("Expected %d results, got %d", len(urls), len(got))
	}
	wantSuccess := []bool{true, false, false, true}
	for i, r := range got {
		if r.Success != wantSuccess[i] {
			t.Errorf("%s: expected success=%v, got %+v", urls[i], wantSuccess[i], r)
		}
		if r.Success && (len(r.Screenshots) != 2 || r.Error != "") {
			t.Errorf("%s: expected 2 screenshots and no error, got %+v", urls[i], r)
		}
		if !r.Success && (r.Error == "" || r.Screenshots != nil) {
			t.Errorf("%s: expected an error and no screenshots, got %+v", urls[i], r)
		}
	}
	if launcher.launches() != 3 {
		t.Errorf("Expected the invalid url to be skipped without launching; got %d launches", launcher.launches())
	}
	for i, p := range launcher.pages {
		if p.closed != 1 {
			t.Errorf("Page %d: expected to be closed once, got %d", i, p.closed)
		}
	}
}

func TestCapture_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, launcher, store := newTestEngine(standardElements)
	base := launcher.newPage
	launcher.newPage = func() *fakePage {
		p := base()
		p.onCapture = cancel
		return p
	}

	selectors := []string{".ok", ".sized", "#missing"}
	resp, err := engine.Capture(ctx, Request{Url: "https://example.com", Selectors: selectors})
	if err != nil {
		t.Fatalf("Expected partial results rather than an error, got: %v", err)
	}
	if len(resp.Screenshots) != len(selectors) {
		t.Fatalf("Expected %d results, got %d", len(selectors), len(resp.Screenshots))
	}
	for _, r := range resp.Screenshots {
		if r.ErrorKind != ErrorKindCancelled {
			t.Errorf("%s: expected cancelled, got %+v", r.Selector, r)
		}
	}
	page := launcher.pages[0]
	if page.closed != 1 || page.released != page.marked {
		t.Errorf("Expected cleanup despite cancellation: closed=%d marked=%d released=%d", page.closed, page.marked, page.released)
	}
	if store.count() != 0 {
		t.Errorf("Expected nothing persisted, got %d", store.count())
	}
}

func TestCapture_PersistFailure(t *testing.T) {
	engine, _, store := newTestEngine(standardElements)
	store.failErr = errBoom

	resp, err := engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: []string{".ok"}})
	if err != nil {
		t.Fatal(err)
	}
	if r := resp.Screenshots[0]; r.ErrorKind != ErrorKindCaptureFailed || !strings.Contains(r.Error, "boom") {
		t.Errorf("Expected capture_failed preserving the cause, got %+v", r)
	}
}

func TestRecorder(t *testing.T) {
	recorder := &fakeRecorder{err: errBoom}
	engine, _, _ := newTestEngine(standardElements, WithRecorder(recorder))

	_, err := engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: []string{".ok", "#missing"}})
	if err != nil {
		t.Fatalf("Expected a recorder failure to not fail the capture, got: %v", err)
	}
	_, _ = engine.BatchCapture(context.Background(), BatchRequest{Urls: []string{"ftp://x"}, Selectors: []string{".ok"}})

	if len(recorder.runs) != 2 {
		t.Fatalf("Expected 2 recorded runs, got %d", len(recorder.runs))
	}
	run := recorder.runs[0]
	if run.Kind != RunKindCapture || run.ID == "" || len(run.Results) != 2 || run.Failures() != 1 {
		t.Errorf("Unexpected capture run: %+v", run)
	}
	if run.Results[1].ErrorKind != ErrorKindNotFound {
		t.Errorf("Expected not_found recorded, got %q", run.Results[1].ErrorKind)
	}
	if batch := recorder.runs[1]; batch.Kind != RunKindBatch || batch.Failures() != 1 {
		t.Errorf("Unexpected batch run: %+v", batch)
	}
}

func TestTestSelectors_Idempotent(t *testing.T) {
	engine, launcher, store := newTestEngine(standardElements)
	req := Request{Url: "https://example.com", Selectors: []string{".ok", ".sized", ".hidden", "#missing", "div["}}

	first, err := engine.TestSelectors(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.TestSelectors(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if len(first.Results) != len(second.Results) {
		t.Fatalf("Expected the same number of results, got %d and %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.Selector != b.Selector || a.Exists != b.Exists || a.Count != b.Count || a.VisibleCount != b.VisibleCount ||
			a.Message != b.Message || a.Error != b.Error || (a.Dimensions == nil) != (b.Dimensions == nil) ||
			(a.Dimensions != nil && *a.Dimensions != *b.Dimensions) {
			t.Errorf("%s: results differ between runs: %+v vs %+v", a.Selector, a, b)
		}
	}

	if store.count() != 0 {
		t.Errorf("Expected no assets written, got %d", store.count())
	}
	for i, p := range launcher.pages {
		if p.marked != 0 {
			t.Errorf("Page %d: expected nothing marked, got %d", i, p.marked)
		}
	}
}

func TestCapture_LocateFailure(t *testing.T) {
	engine, _, _ := newTestEngine(func() map[string]*fakeElement {
		return map[string]*fakeElement{
			".flaky": {locateErr: errBoom},
		}
	})

	resp, err := engine.Capture(context.Background(), Request{Url: "https://example.com", Selectors: []string{".flaky"}})
	if err != nil {
		t.Fatal(err)
	}
	r := resp.Screenshots[0]
	if r.ErrorKind != ErrorKindCaptureFailed {
		t.Errorf("Expected capture_failed, got %q", r.ErrorKind)
	}
	if strings.Contains(r.Error, "Found 0 elements") || !strings.Contains(r.Error, "boom") {
		t.Errorf("Expected a lookup failure message preserving the cause, got: %s", r.Error)
	}
}

func TestBatchCapture_EchoesInputUrl(t *testing.T) {
	engine, launcher, _ := newTestEngine(standardElements)

	urls := []string{"a.example/page", "  https://b.example  "}
	resp, err := engine.BatchCapture(context.Background(), BatchRequest{Urls: urls, Selectors: []string{".ok"}})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range resp.BatchResults {
		if r.Url != urls[i] {
			t.Errorf("Expected result %d to echo %q, got %q", i, urls[i], r.Url)
		}
	}
	if got := launcher.pages[0].url; got != "https://a.example/page" {
		t.Errorf("Expected the normalized URL to be loaded, got %q", got)
	}
}
