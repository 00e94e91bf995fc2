package page

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepicker/discovery"
)

type memFetcher struct {
	mu    sync.Mutex
	pages map[string]string
}

func (m *memFetcher) Fetch(_ context.Context, loc string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.pages[loc]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(body), nil
}

func (m *memFetcher) set(loc, body string) {
	m.mu.Lock()
	m.pages[loc] = body
	m.mu.Unlock()
}

const page1 = `<html><body><img src="/a.png" width="200" height="200" alt="A"></body></html>`

func TestStaticTabDocument(t *testing.T) {
	f := &memFetcher{pages: map[string]string{"https://x.test/": page1}}
	tab := NewStaticTab("https://x.test/", f, WithID("t1"))
	assert.Equal(t, "t1", tab.ID())

	addr, err := tab.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/", addr)

	doc, err := tab.Document(context.Background())
	require.NoError(t, err)
	got := discovery.Scan(doc, discovery.DefaultFilterOptions())
	require.Len(t, got, 1)
	assert.Equal(t, "https://x.test/a.png", got[0].Source)
	assert.Equal(t, "A", got[0].Label)
}

func TestStaticTabUnavailable(t *testing.T) {
	tab := NewStaticTab("https://gone.test/", &memFetcher{pages: map[string]string{}})
	_, err := tab.Document(context.Background())
	assert.ErrorIs(t, err, discovery.ErrUnavailable)
}

func TestStaticTabObservePolls(t *testing.T) {
	f := &memFetcher{pages: map[string]string{"https://x.test/": page1}}
	tab := NewStaticTab("https://x.test/", f, WithPollInterval(5*time.Millisecond))

	var changes atomic.Int32
	stop, err := tab.Observe(context.Background(), func() { changes.Add(1) })
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, changes.Load(), "unchanged markup is not a mutation")

	f.set("https://x.test/", page1+`<img src="/b.png">`)
	require.Eventually(t, func() bool { return changes.Load() >= 1 }, time.Second, 5*time.Millisecond)

	stop()
	stop()
	n := changes.Load()
	f.set("https://x.test/", "changed again")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, changes.Load())
}

func TestObserveDisabled(t *testing.T) {
	tab := NewStaticTab("https://x.test/", &memFetcher{pages: map[string]string{}})
	stop, err := tab.Observe(context.Background(), func() { t.Fatal("no polling expected") })
	require.NoError(t, err)
	stop()
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(p, []byte(page1), 0o644))

	f := FileFetcher{Next: &memFetcher{pages: map[string]string{"https://x.test/": "remote"}}}
	body, err := f.Fetch(context.Background(), "file://"+p)
	require.NoError(t, err)
	assert.Equal(t, page1, string(body))

	body, err = f.Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, page1, string(body))

	body, err = f.Fetch(context.Background(), "https://x.test/")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(body))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add(NewStaticTab("https://b.test/", nil, WithID("b")))
	r.Add(NewStaticTab("https://a.test/", nil, WithID("a")))
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	tab, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", tab.ID())

	r.Remove("a")
	_, err = r.Get("a")
	assert.ErrorIs(t, err, ErrNoTab)
}
