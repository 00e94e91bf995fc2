// Package app wires the three contexts (panel, overlay, background) around
// one bus and one durable store for the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"imagepicker/discovery"
	"imagepicker/internal/background"
	"imagepicker/internal/browser"
	"imagepicker/internal/bus"
	"imagepicker/internal/clock"
	"imagepicker/internal/config"
	"imagepicker/internal/download"
	"imagepicker/internal/fetch"
	"imagepicker/internal/overlay"
	"imagepicker/internal/page"
	"imagepicker/internal/panel"
	"imagepicker/internal/session"
	"imagepicker/internal/store"
)

// Options overrides pieces of the runtime, mostly for tests. Zero fields are
// built from Config.
type Options struct {
	Config config.Config
	Logger *slog.Logger
	Clock  clock.Clock
	// Renderer builds the overlay renderer for a tab.
	Renderer func(tabID string) overlay.Renderer
	Store    store.Store
	Bucket   *blob.Bucket
	Fetcher  discovery.Fetcher
}

// Runtime owns every long-lived component.
type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	clock    clock.Clock
	renderer func(string) overlay.Renderer

	Bus        *bus.Bus
	Store      store.Store
	Binding    *session.Binding
	Tabs       *page.Registry
	Background *background.Coordinator

	fetcher discovery.Fetcher
	parse   discovery.ParseOptions
	bucket  *blob.Bucket
	closers []func() error

	mu       sync.Mutex
	overlays map[string]*overlay.Overlay
	detach   map[string]func()
	browser  *browser.Browser
}

// New builds a runtime and attaches the background coordinator.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	filter, err := cfg.FilterOptions()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		renderer: opts.Renderer,
		Tabs:     page.NewRegistry(),
		overlays: map[string]*overlay.Overlay{},
		detach:   map[string]func(){},
	}
	if r.renderer == nil {
		r.renderer = func(id string) overlay.Renderer {
			return overlay.LogRenderer{Logger: logger.With("tab", id)}
		}
	}

	r.Store = opts.Store
	if r.Store == nil {
		st, err := store.Open(ctx, cfg.StoreURL)
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", cfg.StoreURL, err)
		}
		r.Store = st
		r.closers = append(r.closers, st.Close)
	}

	r.bucket = opts.Bucket
	if r.bucket == nil {
		bkt, err := blob.OpenBucket(ctx, cfg.DownloadURL)
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("open download bucket %s: %w", cfg.DownloadURL, err)
		}
		r.bucket = bkt
		r.closers = append(r.closers, bkt.Close)
	}

	r.fetcher = opts.Fetcher
	if r.fetcher == nil {
		r.fetcher = page.FileFetcher{Next: fetch.NewClient(cfg.FetchOptions())}
	}
	r.parse = discovery.ParseOptions{Fetcher: r.fetcher, Logger: logger}
	if cfg.Probe.Enabled {
		popts := []discovery.ProberOption{
			discovery.WithProbeWorkers(cfg.Probe.Workers),
			discovery.WithProbeLogger(logger),
		}
		if cfg.Probe.CacheDir != "" {
			popts = append(popts, discovery.WithDimensionCache(discovery.NewDimensionCache(cfg.Probe.CacheDir, cfg.Probe.CacheEntries)))
		}
		r.parse.Prober = discovery.NewProber(r.fetcher, popts...)
	}

	r.Bus = bus.New(bus.WithLogger(logger))
	r.Binding = session.NewBinding(r.Store, filter, logger)

	orch := download.NewOrchestrator(download.NewBucketHost(r.bucket, r.fetcher), download.Options{
		Pacing:   cfg.Pacing,
		Dir:      cfg.DownloadDir,
		Conflict: download.ParseConflict(cfg.Conflict),
		Clock:    clk,
		Logger:   logger,
	})
	r.Background = background.New(background.Config{Bus: r.Bus, Orchestrator: orch, Logger: logger})
	if _, err := r.Background.Attach(); err != nil {
		r.closeAll()
		return nil, err
	}
	return r, nil
}

// OpenStatic registers a tab backed by fetched markup. poll enables change
// detection for the mutation watcher.
func (r *Runtime) OpenStatic(address string, poll time.Duration) page.Tab {
	t := page.NewStaticTab(address, r.fetcher,
		page.WithParseOptions(r.parse),
		page.WithPollInterval(poll),
		page.WithLogger(r.logger),
	)
	r.Tabs.Add(t)
	return t
}

// OpenLive navigates a browser tab to address. Chrome starts on first use.
func (r *Runtime) OpenLive(ctx context.Context, address string) (page.Tab, error) {
	r.mu.Lock()
	if r.browser == nil {
		bopts := r.cfg.BrowserOptions()
		bopts.Logger = r.logger
		b, err := browser.New(bopts)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.browser = b
	}
	b := r.browser
	r.mu.Unlock()

	p, err := b.Open(ctx, address)
	if err != nil {
		return nil, err
	}
	r.Tabs.Add(p)
	return p, nil
}

// Inject loads the overlay into tabID. A tab that already has one is left
// alone, so repeated injection is harmless.
func (r *Runtime) Inject(_ context.Context, tabID string) error {
	tab, err := r.Tabs.Get(tabID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.overlays[tabID]; ok {
		return nil
	}
	o := overlay.New(overlay.Config{
		Tab:      tab,
		Bus:      r.Bus,
		Renderer: r.renderer(tabID),
		Clock:    r.clock,
		Debounce: r.cfg.Debounce,
		Logger:   r.logger,
	})
	detach, err := o.Attach()
	if err != nil {
		return err
	}
	r.overlays[tabID] = o
	r.detach[tabID] = detach
	r.logger.Debug("overlay injected", "tab", tabID)
	return nil
}

// Overlay returns the overlay injected into tabID.
func (r *Runtime) Overlay(tabID string) (*overlay.Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overlays[tabID]
	return o, ok
}

// NewPanel opens a control panel against tab.
func (r *Runtime) NewPanel(tab page.Tab, sink panel.StatusSink) *panel.Panel {
	return panel.New(panel.Config{
		Bus:          r.Bus,
		Tab:          tab,
		Binding:      r.Binding,
		Injector:     r,
		Clock:        r.clock,
		InjectSettle: r.cfg.InjectSettle,
		Status:       sink,
		Logger:       r.logger,
	})
}

// CloseTab tears down the tab's overlay and forgets the tab.
func (r *Runtime) CloseTab(tabID string) {
	r.mu.Lock()
	o := r.overlays[tabID]
	detach := r.detach[tabID]
	delete(r.overlays, tabID)
	delete(r.detach, tabID)
	r.mu.Unlock()

	if o != nil {
		o.Close()
	}
	if detach != nil {
		detach()
	}
	if t, err := r.Tabs.Get(tabID); err == nil {
		if p, ok := t.(*browser.Page); ok {
			p.Close()
		}
	}
	r.Tabs.Remove(tabID)
}

// Close stops every context and releases the store and bucket.
func (r *Runtime) Close() error {
	for _, id := range r.Tabs.IDs() {
		r.CloseTab(id)
	}
	_ = r.Background.Close()
	_ = r.Bus.Close()

	r.mu.Lock()
	b := r.browser
	r.browser = nil
	r.mu.Unlock()
	if b != nil {
		b.Close()
	}
	return r.closeAll()
}

func (r *Runtime) closeAll() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
