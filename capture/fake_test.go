package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chimbori.dev/cropshot/browser"
)

// fakeElement describes everything on a fake page that a selector matches.
type fakeElement struct {
	count      int
	visible    int
	rect       browser.Rect
	images     []browser.ImageMeasurement
	invalid    string // Set to simulate a selector that querySelectorAll rejects.
	appearsAt  int    // Number of Locate calls before the element shows up.
	captureErr error
	locateErr  error
}

type fakePage struct {
	mu       sync.Mutex
	url      string
	elements map[string]*fakeElement
	navErr   error

	locates  map[string]int
	marked   int
	released int
	closed   int

	onCapture func() // Runs inside CaptureTarget.
}

func newFakePage(elements map[string]*fakeElement) *fakePage {
	return &fakePage{elements: elements, locates: map[string]int{}}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return p.navErr
}

func (p *fakePage) Locate(ctx context.Context, selector string) (browser.Location, error) {
	if err := ctx.Err(); err != nil {
		return browser.Location{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locates[selector]++
	el, ok := p.elements[selector]
	if !ok || p.locates[selector] <= el.appearsAt {
		return browser.Location{}, nil
	}
	if el.locateErr != nil {
		return browser.Location{}, el.locateErr
	}
	if el.invalid != "" {
		return browser.Location{Error: el.invalid}, nil
	}
	loc := browser.Location{Exists: el.count > 0, Count: el.count, VisibleCount: el.visible}
	if el.visible > 0 {
		rect := el.rect
		loc.First = &rect
	}
	return loc, nil
}

func (p *fakePage) MarkTarget(ctx context.Context, selector string) (*browser.Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok || el.visible == 0 {
		return nil, nil
	}
	p.marked++
	return &browser.Target{Token: fmt.Sprint(p.marked), Selector: selector, Rect: el.rect}, nil
}

func (p *fakePage) CaptureTarget(ctx context.Context, t *browser.Target) ([]byte, error) {
	if p.onCapture != nil {
		p.onCapture()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.elements[t.Selector].captureErr; err != nil {
		return nil, err
	}
	return []byte("png:" + t.Selector), nil
}

func (p *fakePage) MeasureImages(ctx context.Context, t *browser.Target) ([]browser.ImageMeasurement, error) {
	return p.elements[t.Selector].images, nil
}

func (p *fakePage) ReleaseTarget(ctx context.Context, t *browser.Target) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// fakeLauncher hands out a fresh fakePage per launch, built by newPage.
type fakeLauncher struct {
	mu        sync.Mutex
	newPage   func() *fakePage
	launchErr error
	pages     []*fakePage
	viewports []browser.Viewport
}

func (l *fakeLauncher) Launch(ctx context.Context, viewport browser.Viewport) (Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewports = append(l.viewports, viewport)
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	page := l.newPage()
	l.pages = append(l.pages, page)
	return page, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.viewports)
}

type fakeStore struct {
	mu      sync.Mutex
	saved   [][]byte
	failErr error
}

func (s *fakeStore) Persist(ctx context.Context, selectorIndex int, png []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	s.saved = append(s.saved, png)
	return fmt.Sprintf("/screenshots/screenshot_%d_%d.png", selectorIndex, len(s.saved)), nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fakeRecorder struct {
	runs []*Run
	err  error
}

func (r *fakeRecorder) RecordRun(ctx context.Context, run *Run) error {
	r.runs = append(r.runs, run)
	return r.err
}

var errBoom = errors.New("boom")
