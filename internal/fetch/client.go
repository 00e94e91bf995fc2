// Package fetch retrieves page, stylesheet and image bytes for the static
// document host, the dimension prober and the download host.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("fetch: resource not found")
	ErrForbidden    = errors.New("fetch: access forbidden")
	ErrUnauthorized = errors.New("fetch: unauthorized")
	ErrServerError  = errors.New("fetch: server error")
	ErrUnsupported  = errors.New("fetch: unsupported locator scheme")
	ErrTooLarge     = errors.New("fetch: response exceeds size limit")
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36 imagepicker/1.0"

// Options configures the client.
type Options struct {
	// Timeout for each request. Default: 15s
	Timeout time.Duration
	// RetryAttempts is the number of retries after the first try. Default: 2
	RetryAttempts int
	// RetryBackoff is the initial backoff. Default: 250ms
	RetryBackoff time.Duration
	// RetryMaxBackoff caps the backoff. Default: 5s
	RetryMaxBackoff time.Duration
	// UserAgent is sent when the caller sets none.
	UserAgent string
	// MaxBytes bounds a response body. Default: 64 MiB
	MaxBytes int64
	// Referer, when set, is sent with every request.
	Referer string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:         15 * time.Second,
		RetryAttempts:   2,
		RetryBackoff:    250 * time.Millisecond,
		RetryMaxBackoff: 5 * time.Second,
		UserAgent:       defaultUserAgent,
		MaxBytes:        64 << 20,
	}
}

// Client fetches http(s) and data: locators.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a client, filling zero options with defaults.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	return &Client{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Fetch returns the body behind locator. Data URLs are decoded in place.
func (c *Client) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(locator), "data:") {
		return DecodeDataURL(locator)
	}
	lower := strings.ToLower(locator)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, truncate(locator, 64))
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		body, retry, err := c.get(ctx, locator)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("get %s failed after %d attempts: %w", locator, c.opts.RetryAttempts+1, lastErr)
}

func (c *Client) get(ctx context.Context, locator string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,text/css,image/*,*/*;q=0.8")
	// Explicit Accept-Encoding turns off transparent decoding in net/http.
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if c.opts.Referer != "" {
		req.Header.Set("Referer", c.opts.Referer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
	}
	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, false, err
	}

	var rc io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("gzip body: %w", err)
		}
		defer gr.Close()
		rc = gr
	case "deflate":
		if zr, err := zlib.NewReader(resp.Body); err == nil {
			defer zr.Close()
			rc = zr
		} else {
			fr := flate.NewReader(resp.Body)
			defer fr.Close()
			rc = fr
		}
	}

	body, err := io.ReadAll(io.LimitReader(rc, c.opts.MaxBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.opts.MaxBytes {
		return nil, false, ErrTooLarge
	}
	return body, false, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if d > c.opts.RetryMaxBackoff {
		d = c.opts.RetryMaxBackoff
	}
	jitter := time.Duration(float64(d) * (0.5 + rand.Float64()))

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
