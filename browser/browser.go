// Package browser owns the headless Chrome processes used to render pages & capture elements.
//
// Every [Session] is one Chrome process (or one tab on a remote Chrome) with a single page.
// Callers must Close every Session they Launch; Close is safe to call more than once.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

var ErrSessionClosed = errors.New("browser session closed")

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Options struct {
	ExecPath  string // Path to the Chrome binary; empty to let chromedp find it.
	RemoteUrl string // DevTools URL of an already-running Chrome; overrides ExecPath when set.
	NoSandbox bool

	NavigationTimeout time.Duration
	IdleQuiet         time.Duration // How long the network must stay quiet after load.
	IdleMaxInflight   int           // Requests allowed in flight while still considered quiet.

	Debug bool
}

type Launcher struct {
	opts Options
}

func NewLauncher(opts Options) *Launcher {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.IdleQuiet <= 0 {
		opts.IdleQuiet = 500 * time.Millisecond
	}
	if opts.IdleMaxInflight <= 0 {
		opts.IdleMaxInflight = 2
	}
	return &Launcher{opts: opts}
}

// Launch starts a browser, opens a page, and sizes it to the viewport.
// The returned Session is independent of ctx’s lifetime; ctx only bounds the launch itself.
func (l *Launcher) Launch(ctx context.Context, viewport Viewport) (*Session, error) {
	slog.Debug("launching browser", "viewport", fmt.Sprintf("%dx%d", viewport.Width, viewport.Height))

	// The browser must outlive any single request-scoped context, so teardown is explicit via Close.
	base := context.WithoutCancel(ctx)

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if l.opts.RemoteUrl != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(base, l.opts.RemoteUrl)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.WindowSize(viewport.Width, viewport.Height),
		)
		if l.opts.NoSandbox {
			opts = append(opts,
				chromedp.Flag("no-sandbox", true),
				chromedp.Flag("disable-setuid-sandbox", true),
			)
		}
		if l.opts.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(base, opts...)
	}

	var tabCtx context.Context
	var cancelTab context.CancelFunc
	if l.opts.Debug {
		tabCtx, cancelTab = chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Printf))
	} else {
		tabCtx, cancelTab = chromedp.NewContext(allocCtx)
	}

	s := &Session{
		ctx:  tabCtx,
		opts: l.opts,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}

	// The first Run allocates the browser, and must use the tab context itself: a derived context
	// would take the browser down with it when cancelled. It runs in a goroutine so that ctx can
	// still abort a slow launch.
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(tabCtx,
			network.Enable(),
			chromedp.EmulateViewport(int64(viewport.Width), int64(viewport.Height)),
		)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
	case <-ctx.Done():
		s.Close()
		<-errCh
		return nil, ctx.Err()
	}

	return s, nil
}

// Session is a single browser page, exclusively owned by one request.
type Session struct {
	ctx    context.Context // chromedp tab context
	cancel context.CancelFunc
	opts   Options

	targets atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Close shuts down the page & its browser. It is safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// chromedp.Cancel waits for the browser to exit; cancel() then releases the allocator.
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = err
		}
		s.cancel()
	})
	return s.closeErr
}

// Navigate loads url, then blocks until the network has been idle for the configured interval
// after the load event: no more than IdleMaxInflight requests for at least IdleQuiet (the
// `networkidle2` contract).
func (s *Session) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	runCtx, cancelRun := s.scoped(ctx)
	defer cancelRun()

	// Listen before navigating so that no request escapes the count.
	listenCtx, stopListening := context.WithCancel(s.ctx)
	defer stopListening()
	watcher := newIdleWatcher(s.opts.IdleMaxInflight, s.opts.IdleQuiet)
	defer watcher.stop()
	chromedp.ListenTarget(listenCtx, watcher.handle)

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("navigation to %s timed out: %w", url, ctxErr)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	slog.Debug("page loaded", "url", url, "status", watcher.documentStatus())
	watcher.loaded()

	select {
	case <-watcher.idle:
		return nil
	case <-runCtx.Done():
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("waiting for network idle on %s: %w", url, ctxErr)
		}
		return ErrSessionClosed
	}
}

// scoped derives a context that carries the chromedp tab (so actions can run against it),
// but is cancelled when ctx is, and inherits ctx’s deadline.
func (s *Session) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		return runCtx, func() {
			stop()
			cancelDeadline()
			cancel()
		}
	}
	return runCtx, func() {
		stop()
		cancel()
	}
}

// run executes actions against the page, reporting ctx’s error (rather than chromedp’s) if ctx
// ended while the actions were in flight.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	runCtx, cancel := s.scoped(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}
