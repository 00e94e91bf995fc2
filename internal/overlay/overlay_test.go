package overlay

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
)

type fakeTab struct {
	mu       sync.Mutex
	snap     *discovery.Snapshot
	onChange func()
	err      error
}

func (t *fakeTab) ID() string { return "t1" }

func (t *fakeTab) Address(context.Context) (string, error) { return "https://x.test/", nil }

func (t *fakeTab) Document(context.Context) (discovery.Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	cp := *t.snap
	cp.ImageElements = append([]discovery.Image(nil), t.snap.ImageElements...)
	return &cp, nil
}

func (t *fakeTab) Observe(_ context.Context, onChange func()) (func(), error) {
	t.mu.Lock()
	t.onChange = onChange
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.onChange = nil
		t.mu.Unlock()
	}, nil
}

func (t *fakeTab) addImage(src string, w, h int) {
	t.mu.Lock()
	t.snap.ImageElements = append(t.snap.ImageElements, discovery.Image{Source: src, NaturalWidth: w, NaturalHeight: h})
	t.mu.Unlock()
}

func (t *fakeTab) mutate() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTab) observing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onChange != nil
}

type recorder struct {
	mu       sync.Mutex
	shown    int
	appended []string
	marks    map[string]bool
	count    int
	notices  []string
	hidden   int
}

func (r *recorder) Show(images []discovery.Descriptor, selected []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown++
	r.marks = map[string]bool{}
	for _, s := range selected {
		r.marks[s] = true
	}
}

func (r *recorder) Append(images []discovery.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, discovery.Sources(images)...)
}

func (r *recorder) Mark(source string, selected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks[source] = selected
}

func (r *recorder) Count(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = n
}

func (r *recorder) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *recorder) Hide() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hidden++
}

type sink struct {
	message.Unimplemented
	mu        sync.Mutex
	updates   [][]string
	downloads [][]string
}

func (s *sink) HandleUpdateSelection(_ context.Context, m message.UpdateSelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, m.SelectedImages)
	return nil
}

func (s *sink) HandleDownloadImages(_ context.Context, m message.DownloadImages) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, m.Images)
	return nil
}

func (s *sink) lastUpdate() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil
	}
	return s.updates[len(s.updates)-1]
}

func (s *sink) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *sink) downloadList() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.downloads...)
}

type fixture struct {
	bus     *bus.Bus
	tab     *fakeTab
	clock   *clock.Fake
	r       *recorder
	panel   *sink
	bg      *sink
	overlay *Overlay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus: bus.New(),
		tab: &fakeTab{snap: &discovery.Snapshot{ImageElements: []discovery.Image{
			{Source: "https://x.test/a.png", NaturalWidth: 300, NaturalHeight: 300, Alt: "a"},
			{Source: "https://x.test/b.jpg", NaturalWidth: 300, NaturalHeight: 300, Alt: "b"},
			{Source: "https://x.test/tiny.gif", NaturalWidth: 10, NaturalHeight: 10},
		}}},
		clock: clock.NewFake(time.Unix(0, 0)),
		r:     &recorder{},
		panel: &sink{},
		bg:    &sink{},
	}
	t.Cleanup(func() { _ = f.bus.Close() })
	f.overlay = New(Config{Tab: f.tab, Bus: f.bus, Renderer: f.r, Clock: f.clock})
	_, err := f.overlay.Attach()
	require.NoError(t, err)
	_, err = f.bus.Register(bus.Panel, f.panel)
	require.NoError(t, err)
	_, err = f.bus.Register(bus.Background, f.bg)
	require.NoError(t, err)
	return f
}

func (f *fixture) scanAndShow(t *testing.T, selected ...string) []discovery.Descriptor {
	t.Helper()
	ctx := context.Background()
	reply, err := f.bus.Request(ctx, bus.Panel, f.overlay.Address(), message.ScanImages{Options: discovery.DefaultFilterOptions()})
	require.NoError(t, err)
	images := reply.(message.ScanResult).Images
	_, err = f.bus.Request(ctx, bus.Panel, f.overlay.Address(), message.ShowImageGrid{Images: images, SelectedImages: selected})
	require.NoError(t, err)
	return images
}

func TestScanAppliesFilter(t *testing.T) {
	f := newFixture(t)
	reply, err := f.bus.Request(context.Background(), bus.Panel, f.overlay.Address(), message.Ping{})
	require.NoError(t, err)
	assert.Equal(t, message.Pong{Status: "ok"}, reply)

	images := f.scanAndShow(t)
	assert.Equal(t, []string{"https://x.test/a.png", "https://x.test/b.jpg"}, discovery.Sources(images))
}

func TestShowReportsInitialSelection(t *testing.T) {
	f := newFixture(t)
	f.scanAndShow(t, "https://x.test/a.png")

	assert.True(t, f.overlay.Visible())
	assert.True(t, f.overlay.Watching())
	assert.Equal(t, 1, f.r.shown)
	assert.Equal(t, 1, f.r.count)
	require.Eventually(t, func() bool { return f.panel.updateCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"https://x.test/a.png"}, f.panel.lastUpdate())
}

func TestToggleAndSelectAllNotifyPanel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scanAndShow(t)

	on, err := f.overlay.Toggle(ctx, "https://x.test/b.jpg")
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, f.r.marks["https://x.test/b.jpg"])

	require.NoError(t, f.overlay.SelectAll(ctx))
	_, sel := f.overlay.Snapshot()
	assert.Equal(t, []string{"https://x.test/b.jpg", "https://x.test/a.png"}, sel)
	assert.Equal(t, 2, f.r.count)

	require.NoError(t, f.overlay.SelectAll(ctx))
	_, sel = f.overlay.Snapshot()
	assert.Empty(t, sel)
	assert.False(t, f.r.marks["https://x.test/a.png"])

	require.Eventually(t, func() bool { return f.panel.updateCount() == 4 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.panel.lastUpdate())
}

func TestDownloadEmptySelectionNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scanAndShow(t)

	require.NoError(t, f.overlay.Download(ctx))
	assert.Equal(t, []string{NoticeNothingSelected}, f.r.notices)

	_, err := f.overlay.Toggle(ctx, "https://x.test/a.png")
	require.NoError(t, err)
	require.NoError(t, f.overlay.Download(ctx))
	require.Eventually(t, func() bool { return len(f.bg.downloadList()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"https://x.test/a.png"}, f.bg.downloadList()[0])
}

func TestOverlayToleratesMissingPanel(t *testing.T) {
	b := bus.New()
	defer b.Close()
	o := New(Config{Tab: &fakeTab{snap: &discovery.Snapshot{}}, Bus: b, Clock: clock.NewFake(time.Unix(0, 0))})
	_, err := o.Attach()
	require.NoError(t, err)
	_, err = b.Request(context.Background(), bus.Panel, o.Address(), message.ShowImageGrid{
		Images: []discovery.Descriptor{{Source: "https://x.test/a.png"}},
	})
	require.NoError(t, err)
	_, err = o.Toggle(context.Background(), "https://x.test/a.png")
	assert.NoError(t, err)
	o.Close()
}

func TestWatcherMergesNewImages(t *testing.T) {
	f := newFixture(t)
	f.scanAndShow(t)

	f.tab.addImage("https://x.test/late.webp", 5, 5)
	f.tab.mutate()
	f.clock.Advance(500 * time.Millisecond)

	images, _ := f.overlay.Snapshot()
	assert.Equal(t, []string{"https://x.test/a.png", "https://x.test/b.jpg", "https://x.test/tiny.gif", "https://x.test/late.webp"}, discovery.Sources(images),
		"the widened re-scan also surfaces images the strict filter dropped")
	assert.Equal(t, []string{"https://x.test/tiny.gif", "https://x.test/late.webp"}, f.r.appended)
}

func TestCloseStopsWatcher(t *testing.T) {
	f := newFixture(t)
	f.scanAndShow(t)
	require.True(t, f.tab.observing())

	f.tab.mutate()
	f.overlay.Close()
	assert.False(t, f.overlay.Visible())
	assert.False(t, f.overlay.Watching())
	assert.False(t, f.tab.observing())
	assert.Equal(t, 1, f.r.hidden)
	assert.Zero(t, f.clock.Pending())

	f.tab.addImage("https://x.test/after.png", 500, 500)
	f.clock.Advance(time.Second)
	assert.Empty(t, f.r.appended)

	_, err := f.overlay.Toggle(context.Background(), "https://x.test/a.png")
	assert.ErrorIs(t, err, ErrNotVisible)

	// Showing again starts a fresh watcher.
	f.scanAndShow(t)
	assert.True(t, f.overlay.Watching())
}

func TestRepeatShowKeepsWatcher(t *testing.T) {
	f := newFixture(t)
	f.scanAndShow(t)
	f.scanAndShow(t, "https://x.test/b.jpg")
	assert.Equal(t, 2, f.r.shown)
	assert.True(t, f.overlay.Watching())
	_, sel := f.overlay.Snapshot()
	assert.Equal(t, []string{"https://x.test/b.jpg"}, sel)
}

func TestScanUnavailable(t *testing.T) {
	f := newFixture(t)
	f.tab.err = discovery.ErrUnavailable
	_, err := f.bus.Request(context.Background(), bus.Panel, f.overlay.Address(), message.ScanImages{Options: discovery.DefaultFilterOptions()})
	assert.ErrorIs(t, err, discovery.ErrUnavailable)
}

func TestWaitVisibleFollowsAsyncShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.overlay.WaitVisible(short), context.DeadlineExceeded)

	images := []discovery.Descriptor{{Source: "https://x.test/a.png"}, {Source: "https://x.test/b.jpg"}}
	require.NoError(t, f.bus.Send(ctx, bus.Panel, f.overlay.Address(), message.ShowImageGrid{Images: images}))

	wait, cancelWait := context.WithTimeout(ctx, 2*time.Second)
	defer cancelWait()
	require.NoError(t, f.overlay.WaitVisible(wait))
	require.NoError(t, f.overlay.SelectAll(ctx), "grid is usable as soon as the wait returns")
	_, sel := f.overlay.Snapshot()
	assert.Equal(t, []string{"https://x.test/a.png", "https://x.test/b.jpg"}, sel)

	f.overlay.Close()
	short2, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, f.overlay.WaitVisible(short2), context.DeadlineExceeded, "closing re-arms the wait")
}
