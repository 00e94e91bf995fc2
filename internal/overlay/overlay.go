// Package overlay is the in-page selection grid. It answers the panel's
// ping, scanImages and showImageGrid requests for one tab, keeps its own
// copy of the selection, reports every change back to the panel and hands
// commits to the background coordinator. It never writes the durable store.
package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"imagepicker/discovery"
	"imagepicker/internal/bus"
	"imagepicker/internal/clock"
	"imagepicker/internal/message"
	"imagepicker/internal/metrics"
	"imagepicker/internal/page"
	"imagepicker/internal/selection"
	"imagepicker/internal/watcher"
)

// NoticeNothingSelected is shown when a commit is attempted with an empty
// selection.
const NoticeNothingSelected = "No images selected"

var ErrNotVisible = errors.New("overlay: grid is not shown")

// Config wires an Overlay.
type Config struct {
	Tab      page.Tab
	Bus      *bus.Bus
	Renderer Renderer
	Clock    clock.Clock
	Debounce time.Duration
	Logger   *slog.Logger
}

// Overlay is the context injected into one tab. All state lives here; Close
// tears it down, including the mutation watcher.
type Overlay struct {
	message.Unimplemented

	tab      page.Tab
	bus      *bus.Bus
	addr     bus.Address
	renderer Renderer
	clock    clock.Clock
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	visible   bool
	shown     chan struct{} // closed while the grid is visible
	images    []discovery.Descriptor
	selection *selection.Set
	opts      discovery.FilterOptions
	watcher   *watcher.Watcher
}

// New creates an overlay for cfg.Tab. It is not on the bus until Attach.
func New(cfg Config) *Overlay {
	o := &Overlay{
		tab:       cfg.Tab,
		bus:       cfg.Bus,
		addr:      bus.TabAddress(cfg.Tab.ID()),
		renderer:  cfg.Renderer,
		clock:     cfg.Clock,
		debounce:  cfg.Debounce,
		logger:    cfg.Logger,
		selection: selection.New(),
		opts:      discovery.DefaultFilterOptions(),
		shown:     make(chan struct{}),
	}
	if o.renderer == nil {
		o.renderer = NopRenderer{}
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("tab", cfg.Tab.ID())
	return o
}

// Address is the overlay's bus address.
func (o *Overlay) Address() bus.Address { return o.addr }

// Attach registers the overlay on the bus.
func (o *Overlay) Attach() (func(), error) {
	return o.bus.Register(o.addr, o)
}

func (o *Overlay) HandlePing(context.Context, message.Ping) (message.Pong, error) {
	return message.Pong{Status: "ok"}, nil
}

func (o *Overlay) HandleScanImages(ctx context.Context, m message.ScanImages) (message.ScanResult, error) {
	if err := m.Options.Validate(); err != nil {
		return message.ScanResult{}, err
	}
	images, err := o.scan(ctx, m.Options)
	if err != nil {
		metrics.RecordScan("panel", "error", 0)
		return message.ScanResult{}, err
	}
	metrics.RecordScan("panel", "success", len(images))

	o.mu.Lock()
	o.opts = m.Options.Clone()
	o.mu.Unlock()

	o.logger.Info("scan finished", "images", len(images))
	return message.ScanResult{Images: images}, nil
}

func (o *Overlay) scan(ctx context.Context, opts discovery.FilterOptions) ([]discovery.Descriptor, error) {
	doc, err := o.tab.Document(ctx)
	if err != nil {
		return nil, err
	}
	return discovery.Scan(doc, opts), nil
}

// HandleShowImageGrid renders the result set. A repeat request rebuilds the
// grid and keeps the running watcher.
func (o *Overlay) HandleShowImageGrid(ctx context.Context, m message.ShowImageGrid) error {
	o.mu.Lock()
	wasVisible := o.visible
	o.visible = true
	if !wasVisible {
		close(o.shown)
	}
	o.images = append([]discovery.Descriptor(nil), m.Images...)
	o.selection.Replace(m.SelectedImages)
	images, selected := o.snapshotLocked()
	o.renderer.Show(images, selected)
	o.renderer.Count(len(selected))

	if o.watcher == nil {
		o.watcher = watcher.New(watcher.Config{
			Source:   o.tab,
			Scan:     o.scan,
			Clock:    o.clock,
			Debounce: o.debounce,
			Logger:   o.logger,
			OnAdded:  o.merge,
		})
	}
	// Started under the lock so a concurrent Close cannot be overtaken.
	if err := o.watcher.Start(ctx, o.opts, images); err != nil {
		o.logger.Warn("mutation watcher unavailable", "error", err)
	}
	o.mu.Unlock()

	if !wasVisible {
		metrics.RecordOverlayShown()
	}
	o.notify(ctx, selected)
	return nil
}

// merge appends descriptors found by the watcher to the grid.
func (o *Overlay) merge(added []discovery.Descriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.visible {
		return
	}
	fresh := discovery.Added(o.images, added)
	if len(fresh) == 0 {
		return
	}
	o.images = append(o.images, fresh...)
	o.renderer.Append(fresh)
}

// Toggle flips source and reports whether it is now selected.
func (o *Overlay) Toggle(ctx context.Context, source string) (bool, error) {
	o.mu.Lock()
	if !o.visible {
		o.mu.Unlock()
		return false, ErrNotVisible
	}
	on := o.selection.Toggle(source)
	o.renderer.Mark(source, on)
	selected := o.selection.Members()
	o.renderer.Count(len(selected))
	o.mu.Unlock()

	o.notify(ctx, selected)
	return on, nil
}

// SelectAll selects every rendered image, or clears when all are selected.
func (o *Overlay) SelectAll(ctx context.Context) error {
	o.mu.Lock()
	if !o.visible {
		o.mu.Unlock()
		return ErrNotVisible
	}
	universe := discovery.Sources(o.images)
	o.selection.SelectAll(universe)
	for _, src := range universe {
		o.renderer.Mark(src, o.selection.Contains(src))
	}
	selected := o.selection.Members()
	o.renderer.Count(len(selected))
	o.mu.Unlock()

	o.notify(ctx, selected)
	return nil
}

// Download commits the selection to the background coordinator.
func (o *Overlay) Download(ctx context.Context) error {
	o.mu.Lock()
	if !o.visible {
		o.mu.Unlock()
		return ErrNotVisible
	}
	selected := o.selection.Members()
	if len(selected) == 0 {
		o.renderer.Notify(NoticeNothingSelected)
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	return o.bus.Send(ctx, o.addr, bus.Background, message.DownloadImages{Images: selected})
}

// Close dismisses the grid and stops the watcher.
func (o *Overlay) Close() {
	o.mu.Lock()
	wasVisible := o.visible
	o.visible = false
	w := o.watcher
	o.watcher = nil
	if wasVisible {
		o.shown = make(chan struct{})
		o.renderer.Hide()
	}
	o.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	if wasVisible {
		metrics.RecordOverlayClosed()
	}
}

// Visible reports whether the grid is shown.
func (o *Overlay) Visible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visible
}

// WaitVisible blocks until the grid is shown or ctx ends. showImageGrid is
// delivered asynchronously, so callers acting on the grid right after
// asking for it wait here first.
func (o *Overlay) WaitVisible(ctx context.Context) error {
	o.mu.Lock()
	shown := o.shown
	o.mu.Unlock()
	select {
	case <-shown:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watching reports whether a mutation watcher is active.
func (o *Overlay) Watching() bool {
	o.mu.Lock()
	w := o.watcher
	o.mu.Unlock()
	return w != nil && w.Active()
}

// Snapshot returns the rendered descriptors and the selection.
func (o *Overlay) Snapshot() ([]discovery.Descriptor, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Overlay) snapshotLocked() ([]discovery.Descriptor, []string) {
	return append([]discovery.Descriptor(nil), o.images...), o.selection.Members()
}

// notify tells the panel about the selection. The panel may be gone.
func (o *Overlay) notify(ctx context.Context, selected []string) {
	err := o.bus.Send(ctx, o.addr, bus.Panel, message.UpdateSelection{SelectedImages: selected})
	if err != nil && !errors.Is(err, bus.ErrNoReceiver) {
		o.logger.Debug("selection update not delivered", "error", err)
	}
}
