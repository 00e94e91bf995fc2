package panel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepicker/discovery"
	"imagepicker/internal/bus"
	"imagepicker/internal/clock"
	"imagepicker/internal/message"
	"imagepicker/internal/page"
	"imagepicker/internal/session"
	"imagepicker/internal/store"
)

type addrTab struct{ address string }

func (addrTab) ID() string { return "7" }

func (t addrTab) Address(context.Context) (string, error) { return t.address, nil }

func (addrTab) Document(context.Context) (discovery.Document, error) {
	return nil, discovery.ErrUnavailable
}

func (addrTab) Observe(context.Context, func()) (func(), error) { return func() {}, nil }

// movingTab is a tab whose address can change while a panel is open.
type movingTab struct {
	mu      sync.Mutex
	address string
}

func (*movingTab) ID() string { return "7" }

func (t *movingTab) Address(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address, nil
}

func (t *movingTab) navigate(address string) {
	t.mu.Lock()
	t.address = address
	t.mu.Unlock()
}

func (*movingTab) Document(context.Context) (discovery.Document, error) {
	return nil, discovery.ErrUnavailable
}

func (*movingTab) Observe(context.Context, func()) (func(), error) { return func() {}, nil }

// overlayStub stands in for the injected overlay.
type overlayStub struct {
	message.Unimplemented

	mu      sync.Mutex
	images  []discovery.Descriptor
	scanErr error
	block   chan struct{}
	pings   int
	grids   []message.ShowImageGrid
}

func (o *overlayStub) HandlePing(context.Context, message.Ping) (message.Pong, error) {
	o.mu.Lock()
	o.pings++
	o.mu.Unlock()
	return message.Pong{Status: "ok"}, nil
}

func (o *overlayStub) HandleScanImages(context.Context, message.ScanImages) (message.ScanResult, error) {
	if o.block != nil {
		<-o.block
	}
	if o.scanErr != nil {
		return message.ScanResult{}, o.scanErr
	}
	return message.ScanResult{Images: o.images}, nil
}

func (o *overlayStub) HandleShowImageGrid(_ context.Context, m message.ShowImageGrid) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.grids = append(o.grids, m)
	return nil
}

func (o *overlayStub) gridCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.grids)
}

type backgroundStub struct {
	message.Unimplemented
	got chan []string
}

func (b *backgroundStub) HandleDownloadImages(_ context.Context, m message.DownloadImages) error {
	b.got <- m.Images
	return nil
}

type fixture struct {
	bus      *bus.Bus
	store    store.Store
	binding  *session.Binding
	clock    *clock.Fake
	overlay  *overlayStub
	injected int
	mu       sync.Mutex
	statuses []Status
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), "mem://")
	require.NoError(t, err)
	f := &fixture{
		bus:     bus.New(),
		store:   st,
		binding: session.NewBinding(st, discovery.DefaultFilterOptions(), nil),
		clock:   clock.NewFake(time.Unix(0, 0)),
		overlay: &overlayStub{images: []discovery.Descriptor{
			{Source: "https://x.test/a.png", Width: 200, Height: 200, Kind: discovery.KindPNG},
			{Source: "https://x.test/b.jpg", Width: 200, Height: 200, Kind: discovery.KindJPG},
		}},
	}
	t.Cleanup(func() {
		_ = f.bus.Close()
		_ = st.Close()
	})
	return f
}

func (f *fixture) panel(address string) *Panel {
	return f.panelOn(addrTab{address: address})
}

func (f *fixture) panelOn(tab page.Tab) *Panel {
	return New(Config{
		Bus:     f.bus,
		Tab:     tab,
		Binding: f.binding,
		Injector: InjectorFunc(func(_ context.Context, tabID string) error {
			f.mu.Lock()
			f.injected++
			f.mu.Unlock()
			if f.bus.Registered(bus.TabAddress(tabID)) {
				return nil
			}
			_, err := f.bus.Register(bus.TabAddress(tabID), f.overlay)
			return err
		}),
		Clock: f.clock,
		Status: func(s Status) {
			f.mu.Lock()
			f.statuses = append(f.statuses, s)
			f.mu.Unlock()
		},
	})
}

func (f *fixture) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.statuses))
	for _, s := range f.statuses {
		out = append(out, s.Text)
	}
	return out
}

func (f *fixture) seed(t *testing.T, address string, detect bool) {
	t.Helper()
	opts := discovery.DefaultFilterOptions()
	opts.DetectOnPanelOpen = detect
	require.NoError(t, f.binding.Save(context.Background(), session.State{
		Address:  address,
		Images:   []discovery.Descriptor{{Source: "https://old.test/x.png", Kind: discovery.KindPNG}},
		Selected: []string{"https://old.test/x.png"},
		Options:  opts,
	}))
}

func TestOpenSameAddressRestoresState(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://old.test/", false)

	p := f.panel("https://old.test/")
	reset, err := p.Open(context.Background())
	require.NoError(t, err)
	assert.False(t, reset)

	st := p.State()
	assert.Equal(t, []string{"https://old.test/x.png"}, st.Selected)
	assert.Len(t, st.Images, 1)
	assert.True(t, f.bus.Registered(bus.Panel))
	assert.Empty(t, f.texts(), "auto-detect is off")
}

func TestOpenDifferentAddressResetsBeforeScan(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://old.test/", true)

	p := f.panel("https://new.test/")
	reset, err := p.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, reset)

	st := p.State()
	assert.Equal(t, "https://new.test/", st.Address)
	assert.Empty(t, st.Selected)
	assert.Equal(t, []string{"https://x.test/a.png", "https://x.test/b.jpg"}, discovery.Sources(st.Images),
		"auto-detect scanned the new page")

	persisted, err := f.binding.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://new.test/", persisted.Address)
	assert.Len(t, persisted.Images, 2)
	assert.Empty(t, persisted.Selected)
}

func TestReopenLeavesStoredSessionAlone(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://old.test/", false)
	ctx := context.Background()

	tab := &movingTab{address: "https://old.test/"}
	p := f.panelOn(tab)
	_, err := p.Open(ctx)
	require.NoError(t, err)

	tab.navigate("https://new.test/")
	reset, err := p.Open(ctx)
	require.NoError(t, err)
	assert.False(t, reset, "an open panel keeps its binding")

	persisted, err := f.binding.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://old.test/", persisted.Address)
	assert.Equal(t, []string{"https://old.test/x.png"}, persisted.Selected)

	require.NoError(t, p.SelectAll(ctx))
	persisted, err = f.binding.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://old.test/", persisted.Address)
	assert.Empty(t, persisted.Selected, "select all on a fully selected list clears it")
	assert.Equal(t, p.State().Address, persisted.Address)

	// After closing, the new address is bound and the session reset.
	p.Close()
	reset, err = p.Open(ctx)
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, "https://new.test/", p.State().Address)
	assert.Empty(t, p.State().Images)
}

func TestScanInjectsOnceThenRetries(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	p := f.panel("https://x.test/")
	_, err := p.Open(context.Background())
	require.NoError(t, err)

	images, err := p.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, images, 2)
	assert.Equal(t, 1, f.injected)
	assert.Equal(t, []time.Duration{DefaultInjectSettle}, f.clock.Sleeps())
	assert.Equal(t, []string{TextScanning, "2 images found"}, f.texts())

	// The overlay is loaded now: no second injection.
	_, err = p.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.injected)
	assert.Len(t, f.clock.Sleeps(), 1)
}

func TestScanKeepsSelection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	p := f.panel("https://x.test/")
	_, err := p.Open(context.Background())
	require.NoError(t, err)

	_, err = p.Scan(context.Background())
	require.NoError(t, err)
	st, err := f.binding.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://old.test/x.png"}, st.Selected, "orphans survive a rescan")
}

func TestScanPrivilegedPage(t *testing.T) {
	for _, addr := range []string{"chrome://settings", "chrome-extension://abc/popup.html", "about:blank", "EDGE://flags"} {
		t.Run(addr, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, addr, false)
			p := f.panel(addr)
			_, err := p.Open(context.Background())
			require.NoError(t, err)

			_, err = p.Scan(context.Background())
			assert.ErrorIs(t, err, ErrPrivilegedPage)
			assert.Equal(t, Status{Kind: StatusError, Text: TextPrivileged}, p.View().Status)
			assert.Zero(t, f.injected)
		})
	}
}

func TestScanFailureReportsStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	f.overlay.scanErr = discovery.ErrUnavailable
	p := f.panel("https://x.test/")
	_, err := p.Open(context.Background())
	require.NoError(t, err)

	_, err = p.Scan(context.Background())
	assert.ErrorIs(t, err, discovery.ErrUnavailable)
	assert.Equal(t, Status{Kind: StatusError, Text: TextScanFailed}, p.View().Status)
	assert.False(t, p.View().Scanning)
}

func TestScanRejectsReentry(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	f.overlay.block = make(chan struct{})
	p := f.panel("https://x.test/")
	_, err := p.Open(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Scan(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return p.View().Scanning }, time.Second, 5*time.Millisecond)
	assert.True(t, p.View().ScanDisabled)

	_, err = p.Scan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(f.overlay.block)
	require.NoError(t, <-done)
	assert.False(t, p.View().Scanning)
}

func TestInlineSelectionPersists(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	p := f.panel("https://x.test/")
	ctx := context.Background()
	_, err := p.Open(ctx)
	require.NoError(t, err)
	_, err = p.Scan(ctx)
	require.NoError(t, err)

	on, err := p.Toggle(ctx, "https://old.test/x.png")
	require.NoError(t, err)
	assert.False(t, on)
	v := p.View()
	assert.Equal(t, 0, v.Selected)
	assert.True(t, v.DownloadDisabled)
	assert.False(t, v.ViewDisabled)

	require.NoError(t, p.SelectAll(ctx))
	st, err := f.binding.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.test/a.png", "https://x.test/b.jpg"}, st.Selected)

	require.NoError(t, p.SelectAll(ctx))
	st, err = f.binding.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Selected)
}

func TestOverlayUpdatesArePersisted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	p := f.panel("https://x.test/")
	_, err := p.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.bus.Send(context.Background(), bus.TabAddress("7"), bus.Panel,
		message.UpdateSelection{SelectedImages: []string{"https://x.test/b.jpg"}}))

	require.Eventually(t, func() bool {
		st, err := f.binding.Load(context.Background())
		return err == nil && len(st.Selected) == 1 && st.Selected[0] == "https://x.test/b.jpg"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"https://x.test/b.jpg"}, p.State().Selected)
}

func TestShowOverlayClosesPanel(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	p := f.panel("https://x.test/")
	ctx := context.Background()
	_, err := p.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, p.ShowOverlay(ctx))
	assert.False(t, f.bus.Registered(bus.Panel))
	require.Eventually(t, func() bool { return f.overlay.gridCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"https://old.test/x.png"}, f.overlay.grids[0].SelectedImages)

	_, err = p.Toggle(ctx, "https://x.test/a.png")
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestShowOverlayFailureKeepsPanelOpen(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	p := New(Config{Bus: f.bus, Tab: addrTab{address: "https://x.test/"}, Binding: f.binding, Clock: f.clock})
	ctx := context.Background()
	_, err := p.Open(ctx)
	require.NoError(t, err)

	err = p.ShowOverlay(ctx)
	assert.ErrorIs(t, err, bus.ErrNoReceiver)
	assert.Equal(t, Status{Kind: StatusError, Text: TextShowFailed}, p.View().Status)
	assert.True(t, f.bus.Registered(bus.Panel))
}

func TestDownloadSendsSelection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	bg := &backgroundStub{got: make(chan []string, 1)}
	_, err := f.bus.Register(bus.Background, bg)
	require.NoError(t, err)

	p := f.panel("https://x.test/")
	ctx := context.Background()
	_, err = p.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Download(ctx))
	select {
	case got := <-bg.got:
		assert.Equal(t, []string{"https://old.test/x.png"}, got)
	case <-time.After(time.Second):
		t.Fatal("download not delivered")
	}
	assert.Equal(t, Status{Kind: StatusInfo, Text: TextDownloading}, p.View().Status)

	_, err = p.Toggle(ctx, "https://old.test/x.png")
	require.NoError(t, err)
	require.NoError(t, p.Download(ctx))
	assert.Empty(t, bg.got, "empty selection is a no-op")
}

func TestSetOptionsValidates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "https://x.test/", false)
	p := f.panel("https://x.test/")
	ctx := context.Background()
	_, err := p.Open(ctx)
	require.NoError(t, err)

	bad := discovery.DefaultFilterOptions()
	bad.AcceptedKinds = nil
	assert.ErrorIs(t, p.SetOptions(ctx, bad), discovery.ErrInvalidOptions)

	opts := discovery.DefaultFilterOptions()
	opts.MinWidth = 5
	require.NoError(t, p.SetOptions(ctx, opts))
	st, err := f.binding.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Options.MinWidth)
}

func TestPrivileged(t *testing.T) {
	assert.True(t, Privileged("devtools://devtools/bundled"))
	assert.True(t, Privileged("  about:srcdoc"))
	assert.False(t, Privileged("https://chrome.google.com/"))
	assert.False(t, Privileged("file:///tmp/page.html"))
}
