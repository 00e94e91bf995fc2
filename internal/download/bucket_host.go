package download

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"gocloud.dev/blob"
)

// Fetcher returns the bytes behind a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// maxUniquify bounds the "name (n).ext" probe.
const maxUniquify = 10000

// BucketHost saves downloads into a gocloud bucket, which may be a local
// directory (file://), memory (mem://) or object storage.
type BucketHost struct {
	bucket  *blob.Bucket
	fetcher Fetcher

	// mu serializes the exists-then-write sequence of uniquify.
	mu sync.Mutex
}

// NewBucketHost creates a host writing into bucket.
func NewBucketHost(bucket *blob.Bucket, fetcher Fetcher) *BucketHost {
	return &BucketHost{bucket: bucket, fetcher: fetcher}
}

// Download implements Host.
func (h *BucketHost) Download(ctx context.Context, req Request) (string, error) {
	data, err := h.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := req.Filename
	if req.Conflict != ConflictOverwrite {
		key, err = h.uniqueKey(ctx, key)
		if err != nil {
			return "", err
		}
	}
	if err := h.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return key, nil
}

func (h *BucketHost) uniqueKey(ctx context.Context, key string) (string, error) {
	ext := path.Ext(key)
	stem := strings.TrimSuffix(key, ext)
	candidate := key
	for n := 1; n <= maxUniquify; n++ {
		exists, err := h.bucket.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("exists %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	return "", fmt.Errorf("no free name for %s", key)
}
