// Package watcher re-runs discovery while the overlay is visible and
// surfaces descriptors that appeared since the grid was rendered.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"imagepicker/discovery"
	"imagepicker/internal/clock"
	"imagepicker/internal/metrics"
)

// DefaultDebounce is the quiescence window before a re-scan.
const DefaultDebounce = 500 * time.Millisecond

var ErrNoSource = errors.New("watcher: no mutation source")

// Source reports structural and attribute changes of a live document.
// onChange may be called from any goroutine, once per batch of changes.
type Source interface {
	Observe(ctx context.Context, onChange func()) (stop func(), err error)
}

// Scanner runs discovery against the current document.
type Scanner func(ctx context.Context, opts discovery.FilterOptions) ([]discovery.Descriptor, error)

// Config wires a Watcher.
type Config struct {
	Source   Source
	Scan     Scanner
	Clock    clock.Clock
	Debounce time.Duration
	Logger   *slog.Logger
	// OnAdded receives descriptors not seen before, in discovery order.
	OnAdded func([]discovery.Descriptor)
}

// Watcher coalesces bursts of document changes into a single re-scan after
// the debounce window. It is inert until Start and after Stop.
type Watcher struct {
	cfg Config

	mu       sync.Mutex
	active   bool
	gen      uint64
	timer    clock.Timer
	stopObs  func()
	cancel   context.CancelFunc
	ctx      context.Context
	opts     discovery.FilterOptions
	rendered []discovery.Descriptor

	scanMu sync.Mutex
}

// New creates an inactive watcher.
func New(cfg Config) *Watcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{cfg: cfg}
}

// Start begins observing. opts is the overlay's last-known filter and
// rendered is the descriptor list currently on screen. Starting an active
// watcher only refreshes opts and rendered.
func (w *Watcher) Start(ctx context.Context, opts discovery.FilterOptions, rendered []discovery.Descriptor) error {
	if w.cfg.Source == nil || w.cfg.Scan == nil {
		return ErrNoSource
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.opts = opts.Clone()
	w.rendered = append([]discovery.Descriptor(nil), rendered...)
	if w.active {
		return nil
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.gen++
	gen := w.gen
	stop, err := w.cfg.Source.Observe(wctx, func() { w.changed(gen) })
	if err != nil {
		cancel()
		return err
	}
	w.active = true
	w.ctx = wctx
	w.cancel = cancel
	w.stopObs = stop
	w.cfg.Logger.Debug("watcher started", "rendered", len(rendered))
	return nil
}

// SetRendered replaces the list additions are diffed against.
func (w *Watcher) SetRendered(rendered []discovery.Descriptor) {
	w.mu.Lock()
	w.rendered = append([]discovery.Descriptor(nil), rendered...)
	w.mu.Unlock()
}

// Active reports whether the watcher is observing.
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Stop ends observation, cancels any pending re-scan and waits for a running
// one to return. No OnAdded call is in progress or starts after Stop returns,
// so Stop must not be called from OnAdded.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	w.active = false
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	stop, cancel := w.stopObs, w.cancel
	w.stopObs, w.cancel, w.ctx = nil, nil, nil
	w.mu.Unlock()

	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}
	// A fire past its generation check holds scanMu until OnAdded returns.
	w.scanMu.Lock()
	w.scanMu.Unlock()
	w.cfg.Logger.Debug("watcher stopped")
}

func (w *Watcher) changed(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active || gen != w.gen {
		return
	}
	if w.timer != nil {
		w.timer.Reset(w.cfg.Debounce)
		return
	}
	w.timer = w.cfg.Clock.AfterFunc(w.cfg.Debounce, func() { w.fire(gen) })
}

func (w *Watcher) fire(gen uint64) {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	w.mu.Lock()
	if !w.active || gen != w.gen {
		w.mu.Unlock()
		return
	}
	ctx, opts := w.ctx, w.opts.Widened()
	w.mu.Unlock()

	fresh, err := w.cfg.Scan(ctx, opts)
	if err != nil {
		metrics.RecordScan("watcher", "error", 0)
		w.cfg.Logger.Warn("watcher rescan failed", "error", err)
		return
	}
	metrics.RecordScan("watcher", "success", len(fresh))

	w.mu.Lock()
	if !w.active || gen != w.gen {
		w.mu.Unlock()
		return
	}
	added := discovery.Added(w.rendered, fresh)
	w.rendered = append(w.rendered, added...)
	onAdded := w.cfg.OnAdded
	w.mu.Unlock()

	if len(added) == 0 {
		return
	}
	metrics.RecordWatcherAdditions(len(added))
	w.cfg.Logger.Info("watcher found new images", "added", len(added))
	if onAdded != nil {
		onAdded(added)
	}
}
