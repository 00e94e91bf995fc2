// Package panel is the short-lived control surface. It binds itself to the
// active tab's address on open, asks the overlay to scan, keeps an inline
// copy of the selection and is the only writer of the durable state.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"imagepicker/discovery"
	"imagepicker/internal/bus"
	"imagepicker/internal/clock"
	"imagepicker/internal/message"
	"imagepicker/internal/metrics"
	"imagepicker/internal/page"
	"imagepicker/internal/selection"
	"imagepicker/internal/session"
)

// DefaultInjectSettle is how long the panel waits after injecting the
// overlay before talking to it.
const DefaultInjectSettle = 100 * time.Millisecond

var (
	ErrPrivilegedPage = errors.New("panel: page cannot be scanned")
	ErrScanInProgress = errors.New("panel: scan already in progress")
	ErrNotOpen        = errors.New("panel: not open")
)

var privilegedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"about:",
	"devtools://",
	"edge://",
}

// Privileged reports whether address belongs to a browser-internal page.
func Privileged(address string) bool {
	a := strings.ToLower(strings.TrimSpace(address))
	for _, p := range privilegedPrefixes {
		if strings.HasPrefix(a, p) {
			return true
		}
	}
	return false
}

// Injector loads the overlay logic into a tab. Injecting twice is safe.
type Injector interface {
	Inject(ctx context.Context, tabID string) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, tabID string) error

func (f InjectorFunc) Inject(ctx context.Context, tabID string) error { return f(ctx, tabID) }

// Config wires a Panel.
type Config struct {
	Bus          *bus.Bus
	Tab          page.Tab
	Binding      *session.Binding
	Injector     Injector
	Clock        clock.Clock
	InjectSettle time.Duration
	Status       StatusSink
	Logger       *slog.Logger
}

// Panel is the control panel context.
type Panel struct {
	message.Unimplemented

	bus      *bus.Bus
	tab      page.Tab
	binding  *session.Binding
	injector Injector
	clock    clock.Clock
	settle   time.Duration
	sink     StatusSink
	logger   *slog.Logger

	mu         sync.Mutex
	open       bool
	opening    bool
	unregister func()
	address    string
	images     []discovery.Descriptor
	selection  *selection.Set
	options    discovery.FilterOptions
	scanning   bool
	status     Status
}

// New creates a closed panel for cfg.Tab.
func New(cfg Config) *Panel {
	p := &Panel{
		bus:       cfg.Bus,
		tab:       cfg.Tab,
		binding:   cfg.Binding,
		injector:  cfg.Injector,
		clock:     cfg.Clock,
		settle:    cfg.InjectSettle,
		sink:      cfg.Status,
		logger:    cfg.Logger,
		selection: selection.New(),
		options:   discovery.DefaultFilterOptions(),
	}
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	if p.settle <= 0 {
		p.settle = DefaultInjectSettle
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("context", "panel", "tab", cfg.Tab.ID())
	return p
}

// Open attaches the panel to the bus and loads the session for the tab's
// current address. A changed address resets the images and selection before
// anything else runs. When auto-detect is on, a scan follows; its outcome is
// reported through the status sink only. Opening a panel that is already
// open does nothing and leaves the stored session untouched.
func (p *Panel) Open(ctx context.Context) (reset bool, err error) {
	p.mu.Lock()
	if p.open || p.opening {
		p.mu.Unlock()
		return false, nil
	}
	p.opening = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.opening = false
		p.mu.Unlock()
	}()

	address, err := p.tab.Address(ctx)
	if err != nil {
		return false, fmt.Errorf("query tab address: %w", err)
	}
	st, reset, err := p.binding.Open(ctx, address)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	unregister, err := p.bus.Register(bus.Panel, p)
	if err != nil {
		p.mu.Unlock()
		return false, err
	}
	p.open = true
	p.unregister = unregister
	p.address = st.Address
	p.images = st.Images
	p.selection.Replace(st.Selected)
	p.options = st.Options
	detect := st.Options.DetectOnPanelOpen
	p.mu.Unlock()

	p.logger.Info("panel opened", "address", address, "reset", reset,
		"images", len(st.Images), "selected", len(st.Selected))

	if detect {
		if _, err := p.Scan(ctx); err != nil {
			p.logger.Debug("auto-detect scan did not complete", "error", err)
		}
	}
	return reset, nil
}

// Close detaches the panel. Queued overlay notices are dropped.
func (p *Panel) Close() {
	p.mu.Lock()
	unregister := p.unregister
	p.open = false
	p.unregister = nil
	p.mu.Unlock()
	if unregister != nil {
		unregister()
		p.logger.Debug("panel closed")
	}
}

// Scan asks the tab's overlay for the descriptors matching the panel's
// filter and persists the result. A scan while another is running is
// rejected with ErrScanInProgress.
func (p *Panel) Scan(ctx context.Context) ([]discovery.Descriptor, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil, ErrNotOpen
	}
	if p.scanning {
		p.mu.Unlock()
		return nil, ErrScanInProgress
	}
	p.scanning = true
	address := p.address
	opts := p.options.Clone()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.scanning = false
		p.mu.Unlock()
	}()

	p.show(Status{Kind: StatusInfo, Text: TextScanning})
	if Privileged(address) {
		p.show(Status{Kind: StatusError, Text: TextPrivileged})
		return nil, fmt.Errorf("%w: %s", ErrPrivilegedPage, address)
	}

	images, err := p.requestScan(ctx, opts)
	if err != nil {
		p.logger.Warn("scan failed", "error", err)
		p.show(Status{Kind: StatusError, Text: TextScanFailed})
		return nil, err
	}

	p.mu.Lock()
	p.images = images
	st := p.stateLocked()
	p.mu.Unlock()

	if err := p.binding.Save(ctx, st); err != nil {
		p.logger.Warn("persist scan result", "error", err)
	}
	p.logger.Info("scan complete", "images", len(images))
	p.show(imagesFound(len(images)))
	return images, nil
}

func (p *Panel) requestScan(ctx context.Context, opts discovery.FilterOptions) ([]discovery.Descriptor, error) {
	if err := p.ensureOverlay(ctx); err != nil {
		return nil, err
	}
	reply, err := p.bus.Request(ctx, bus.Panel, p.overlayAddress(), message.ScanImages{Options: opts})
	if err != nil {
		return nil, err
	}
	res, ok := reply.(message.ScanResult)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T to %s", reply, message.ActionScanImages)
	}
	if res.Images == nil {
		res.Images = []discovery.Descriptor{}
	}
	return res.Images, nil
}

// ensureOverlay pings the tab's overlay and, if nothing answers, injects it
// and waits for it to settle. There is exactly one retry: the request that
// follows either reaches the overlay or fails.
func (p *Panel) ensureOverlay(ctx context.Context) error {
	_, err := p.bus.Request(ctx, bus.Panel, p.overlayAddress(), message.Ping{})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.logger.Debug("overlay not loaded, injecting", "error", err)
	if p.injector == nil {
		return err
	}
	if err := p.injector.Inject(ctx, p.tab.ID()); err != nil {
		return fmt.Errorf("inject overlay: %w", err)
	}
	return p.clock.Sleep(ctx, p.settle)
}

func (p *Panel) overlayAddress() bus.Address { return bus.TabAddress(p.tab.ID()) }

// ShowOverlay hands the result set and selection to the overlay, then closes
// the panel.
func (p *Panel) ShowOverlay(ctx context.Context) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrNotOpen
	}
	msg := message.ShowImageGrid{
		Images:         append([]discovery.Descriptor(nil), p.images...),
		SelectedImages: p.selection.Members(),
	}
	p.mu.Unlock()

	err := p.ensureOverlay(ctx)
	if err == nil {
		err = p.bus.Send(ctx, bus.Panel, p.overlayAddress(), msg)
	}
	if err != nil {
		p.logger.Warn("show overlay failed", "error", err)
		p.show(Status{Kind: StatusError, Text: TextShowFailed})
		return err
	}
	p.Close()
	return nil
}

// Toggle flips source in the inline selection and persists it.
func (p *Panel) Toggle(ctx context.Context, source string) (bool, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return false, ErrNotOpen
	}
	on := p.selection.Toggle(source)
	selected := p.selection.Members()
	p.mu.Unlock()

	return on, p.persistSelection(ctx, selected)
}

// SelectAll selects every scanned image, or clears the selection when it
// already covers them all.
func (p *Panel) SelectAll(ctx context.Context) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrNotOpen
	}
	p.selection.SelectAll(discovery.Sources(p.images))
	selected := p.selection.Members()
	p.mu.Unlock()

	return p.persistSelection(ctx, selected)
}

// SetOptions replaces the filter used by later scans and persists it.
func (p *Panel) SetOptions(ctx context.Context, opts discovery.FilterOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.options = opts.Clone()
	p.mu.Unlock()
	return p.binding.SaveOptions(ctx, opts)
}

// Download commits the inline selection to the background coordinator. An
// empty selection is a no-op.
func (p *Panel) Download(ctx context.Context) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrNotOpen
	}
	selected := p.selection.Members()
	p.mu.Unlock()
	if len(selected) == 0 {
		return nil
	}

	p.show(Status{Kind: StatusInfo, Text: TextDownloading})
	if err := p.bus.Send(ctx, bus.Panel, bus.Background, message.DownloadImages{Images: selected}); err != nil {
		p.logger.Warn("download request not delivered", "error", err)
		return err
	}
	return nil
}

// HandleUpdateSelection replaces the inline selection with the overlay's.
func (p *Panel) HandleUpdateSelection(ctx context.Context, m message.UpdateSelection) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	p.selection.Replace(m.SelectedImages)
	selected := p.selection.Members()
	p.mu.Unlock()

	p.logger.Debug("selection updated by overlay", "selected", len(selected))
	return p.persistSelection(ctx, selected)
}

func (p *Panel) persistSelection(ctx context.Context, selected []string) error {
	if err := p.binding.SaveSelection(ctx, selected); err != nil {
		p.logger.Warn("persist selection", "error", err)
		return err
	}
	return nil
}

// State returns the panel's current view of the session.
func (p *Panel) State() session.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Panel) stateLocked() session.State {
	return session.State{
		Address:  p.address,
		Images:   append([]discovery.Descriptor{}, p.images...),
		Selected: p.selection.Members(),
		Options:  p.options.Clone(),
	}
}

// View reports the counters and which affordances are enabled.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	total, selected := len(p.images), p.selection.Len()
	return View{
		Total:             total,
		Selected:          selected,
		Scanning:          p.scanning,
		ScanDisabled:      p.scanning,
		ViewDisabled:      total == 0,
		SelectAllDisabled: total == 0,
		DownloadDisabled:  selected == 0,
		Status:            p.status,
	}
}

func (p *Panel) show(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
	metrics.RecordStatus(string(s.Kind))
	if p.sink != nil {
		p.sink(s)
	}
}
