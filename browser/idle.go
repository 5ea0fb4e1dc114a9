package browser

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// idleWatcher closes idle once at most maxInflight requests have been pending for quiet, counting
// only from when the page has loaded (see loaded). Requests are tracked from creation, so that
// anything started during the load is still counted afterwards.
type idleWatcher struct {
	mu          sync.Mutex
	inflight    map[network.RequestID]struct{}
	maxInflight int
	quiet       time.Duration
	timer       *time.Timer
	status      int64
	isLoaded    bool
	stopped     bool
	generation  uint64

	idle     chan struct{}
	idleOnce sync.Once
}

func newIdleWatcher(maxInflight int, quiet time.Duration) *idleWatcher {
	w := &idleWatcher{
		inflight:    map[network.RequestID]struct{}{},
		maxInflight: maxInflight,
		quiet:       quiet,
		idle:        make(chan struct{}),
	}
	return w
}

// loaded starts the quiet window. Before this, the page is never considered idle, however few
// requests are in flight.
func (w *idleWatcher) loaded() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.isLoaded = true
	if len(w.inflight) <= w.maxInflight && w.timer == nil {
		w.armLocked()
	}
}

// handle is registered with chromedp.ListenTarget; it runs on chromedp’s event loop and must not block.
func (w *idleWatcher) handle(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.started(ev.RequestID)
	case *network.EventLoadingFinished:
		w.finished(ev.RequestID)
	case *network.EventLoadingFailed:
		w.finished(ev.RequestID)
	case *network.EventResponseReceived:
		if ev.Type == network.ResourceTypeDocument && ev.Response != nil {
			w.mu.Lock()
			w.status = ev.Response.Status
			w.mu.Unlock()
		}
	}
}

func (w *idleWatcher) started(id network.RequestID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Redirects re-use the request ID, so a map keeps the count honest.
	w.inflight[id] = struct{}{}
	if len(w.inflight) > w.maxInflight {
		w.disarmLocked()
	}
}

func (w *idleWatcher) finished(id network.RequestID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
	if w.isLoaded && len(w.inflight) <= w.maxInflight && w.timer == nil {
		w.armLocked()
	}
}

func (w *idleWatcher) armLocked() {
	if w.stopped || !w.isLoaded {
		return
	}
	w.generation++
	generation := w.generation
	w.timer = time.AfterFunc(w.quiet, func() {
		w.mu.Lock()
		// A timer that was disarmed after it started firing belongs to an older window.
		quiet := generation == w.generation && len(w.inflight) <= w.maxInflight && !w.stopped
		w.mu.Unlock()
		if quiet {
			w.idleOnce.Do(func() { close(w.idle) })
		}
	})
}

func (w *idleWatcher) disarmLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
		w.generation++
	}
}

func (w *idleWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.disarmLocked()
}

// documentStatus returns the HTTP status of the main document, or 0 if none was observed
// (e.g. for data: URLs).
func (w *idleWatcher) documentStatus() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}
