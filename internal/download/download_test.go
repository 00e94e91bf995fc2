package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"imagepicker/internal/clock"
	"imagepicker/internal/fetch"
)

func TestFilename(t *testing.T) {
	cases := []struct {
		locator string
		index   int
		want    string
	}{
		{"https://x.test/photos/cat.png", 0, "cat.png"},
		{"https://x.test/photos/cat.png?w=200#top", 1, "cat.png"},
		{"https://x.test/a/my%20pic.jpeg", 2, "my_20pic.jpeg"},
		{"https://x.test/y/", 3, "image_42_3.jpg"},
		{"https://x.test/y", 4, "image_42_4.jpg"},
		{"https://x.test/render?fmt=.webp", 5, "image_42_5.jpg"},
		{"data:image/png;base64,iVBORw0KGgo=", 6, "image_42_6.png"},
		{"data:image/jpeg;base64,/9j/4AAQ", 7, "image_42_7.jpg"},
		{"data:image/svg+xml,%3Csvg%2F%3E", 8, "image_42_8.svg"},
		{"https://x.test/für.gif", 9, "f_C3_BCr.gif"},
		{"http://[::1", 10, "image_42_10.jpg"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Filename(tc.locator, tc.index, 42), tc.locator)
	}
}

func TestSanitizedNamesOnlyUseSafeCharacters(t *testing.T) {
	for _, loc := range []string{"https://x.test/a b@c!.png", "https://x.test/%E2%9C%93.png", "https://x.test/$$$"} {
		name := Filename(loc, 0, 1)
		for _, r := range name {
			ok := r == '.' || r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			assert.True(t, ok, "%q in %q", r, name)
		}
	}
}

type recordingHost struct {
	fail map[string]bool
	reqs []Request
}

func (h *recordingHost) Download(_ context.Context, req Request) (string, error) {
	h.reqs = append(h.reqs, req)
	if h.fail[req.URL] {
		return "", errors.New("host denied")
	}
	return req.Filename, nil
}

func TestOrchestratorContinuesPastFailures(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	host := &recordingHost{fail: map[string]bool{"https://x.test/L1.png": true}}
	o := NewOrchestrator(host, Options{Pacing: DefaultPacing, Clock: fake})

	res := o.Download(context.Background(), []string{
		"https://x.test/L1.png",
		"https://x.test/L2.png",
		"https://x.test/L3/",
	})

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 3, res.Total)
	require.Len(t, host.reqs, 3)
	assert.Equal(t, "ImageDownloader/L2.png", host.reqs[1].Filename)
	assert.Equal(t, ConflictUniquify, host.reqs[1].Conflict)
	assert.True(t, strings.HasPrefix(host.reqs[2].Filename, "ImageDownloader/image_"))
	assert.True(t, strings.HasSuffix(host.reqs[2].Filename, "_2.jpg"))
	assert.Equal(t, []string{"ImageDownloader/L2.png", host.reqs[2].Filename}, res.Files)

	// Paced between items, not after the last one.
	assert.Equal(t, []time.Duration{DefaultPacing, DefaultPacing}, fake.Sleeps())
}

func TestOrchestratorSequentialOrder(t *testing.T) {
	host := &recordingHost{}
	o := NewOrchestrator(host, Options{Clock: clock.NewFake(time.Unix(0, 0)), Dir: "out"})
	sources := []string{"https://x.test/c.png", "https://x.test/a.png", "https://x.test/b.png"}
	res := o.Download(context.Background(), sources)
	assert.Equal(t, Result{Succeeded: 3, Total: 3, Files: []string{"out/c.png", "out/a.png", "out/b.png"}}, res)
	for i, r := range host.reqs {
		assert.Equal(t, sources[i], r.URL)
	}
}

func TestOrchestratorStopsOnTeardown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	host := HostFunc(func(_ context.Context, req Request) (string, error) {
		cancel()
		return req.Filename, nil
	})
	o := NewOrchestrator(host, Options{Pacing: time.Millisecond, Clock: clock.NewFake(time.Unix(0, 0))})
	res := o.Download(ctx, []string{"https://x.test/1.png", "https://x.test/2.png"})
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Total)
}

func TestBucketHostUniquifies(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("img:" + r.URL.Path))
	}))
	defer server.Close()

	bkt, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bkt.Close()

	host := NewBucketHost(bkt, fetch.NewClient(fetch.DefaultOptions()))
	o := NewOrchestrator(host, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	res := o.Download(ctx, []string{
		server.URL + "/a/cat.png",
		server.URL + "/b/cat.png",
		server.URL + "/missing.png",
		server.URL + "/c/cat.png",
	})
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, []string{
		"ImageDownloader/cat.png",
		"ImageDownloader/cat (1).png",
		"ImageDownloader/cat (2).png",
	}, res.Files, "files report the names actually written")

	for key, want := range map[string]string{
		"ImageDownloader/cat.png":     "img:/a/cat.png",
		"ImageDownloader/cat (1).png": "img:/b/cat.png",
		"ImageDownloader/cat (2).png": "img:/c/cat.png",
	} {
		got, err := bkt.ReadAll(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, want, string(got))
	}

	saved, err := host.Download(ctx, Request{URL: server.URL + "/d/cat.png", Filename: "ImageDownloader/cat.png", Conflict: ConflictOverwrite})
	require.NoError(t, err)
	assert.Equal(t, "ImageDownloader/cat.png", saved)
	got, err := bkt.ReadAll(ctx, "ImageDownloader/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "img:/d/cat.png", string(got))
}

func TestOrchestratorReportsRenamedFiles(t *testing.T) {
	host := HostFunc(func(_ context.Context, req Request) (string, error) {
		return strings.TrimSuffix(req.Filename, ".png") + " (1).png", nil
	})
	o := NewOrchestrator(host, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	res := o.Download(context.Background(), []string{"https://a.test/x/pic.png"})
	assert.Equal(t, []string{"ImageDownloader/pic (1).png"}, res.Files)
}

func TestParseConflict(t *testing.T) {
	assert.Equal(t, ConflictOverwrite, ParseConflict("overwrite"))
	assert.Equal(t, ConflictUniquify, ParseConflict("uniquify"))
	assert.Equal(t, ConflictUniquify, ParseConflict(""))
}
