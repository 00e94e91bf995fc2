package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStore keeps each key as <prefix>/<key>.json in a bucket.
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
}

// BlobOption configures a BlobStore.
type BlobOption func(*BlobStore)

// WithBlobPrefix sets the object prefix. Default is "state".
func WithBlobPrefix(prefix string) BlobOption {
	return func(s *BlobStore) {
		s.prefix = prefix
	}
}

// NewBlobStore wraps bucket. The store owns the bucket and closes it.
func NewBlobStore(bucket *blob.Bucket, opts ...BlobOption) *BlobStore {
	s := &BlobStore{bucket: bucket, prefix: "state"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *BlobStore) objectKey(key string) string {
	return path.Join(s.prefix, key+".json")
}

// Get implements Store.
func (s *BlobStore) Get(ctx context.Context, key string, v any) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	data, err := s.bucket.ReadAll(ctx, s.objectKey(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set implements Store.
func (s *BlobStore) Set(ctx context.Context, key string, v any) error {
	if err := validKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.bucket.WriteAll(ctx, s.objectKey(key), data, &blob.WriterOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Close closes the bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}
