// Package store is the durable key-value store shared by the panel and the
// background coordinator. Values are JSON documents read and written whole.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// Persisted keys.
const (
	KeyImages         = "images"
	KeySelectedImages = "selectedImages"
	KeyOptions        = "options"
	KeyLastAddress    = "lastAddress"
)

var ErrInvalidKey = errors.New("store: invalid key")

// Store reads and writes whole JSON values.
type Store interface {
	// Get decodes the value at key into v and reports whether it existed.
	Get(ctx context.Context, key string, v any) (bool, error)
	// Set replaces the value at key.
	Set(ctx context.Context, key string, v any) error
	Close() error
}

// Open picks a backend by URL scheme: redis:// and rediss:// use redis,
// anything else is handed to gocloud.dev/blob (mem://, file://, s3://, gs://).
func Open(ctx context.Context, rawURL string) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss":
		prefix := u.Query().Get("prefix")
		q := u.Query()
		q.Del("prefix")
		u.RawQuery = q.Encode()
		opts, err := redis.ParseURL(u.String())
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		var ropts []RedisOption
		if prefix != "" {
			ropts = append(ropts, WithRedisPrefix(prefix))
		}
		return NewRedisStore(client, ropts...), nil
	default:
		bkt, err := blob.OpenBucket(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("open bucket: %w", err)
		}
		return NewBlobStore(bkt), nil
	}
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
