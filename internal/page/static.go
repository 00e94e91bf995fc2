package page

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagepicker/discovery"
)

// StaticTab is a document fetched as markup and parsed without a script
// engine. Each Document call fetches and parses again.
type StaticTab struct {
	id      string
	address string
	fetcher discovery.Fetcher
	parse   discovery.ParseOptions
	poll    time.Duration
	logger  *slog.Logger
}

// StaticOption configures a StaticTab.
type StaticOption func(*StaticTab)

// WithID fixes the tab id. The default is a random uuid.
func WithID(id string) StaticOption {
	return func(t *StaticTab) { t.id = id }
}

// WithPollInterval makes Observe refetch the markup every d and report a
// change when its digest differs. Zero disables observation.
func WithPollInterval(d time.Duration) StaticOption {
	return func(t *StaticTab) { t.poll = d }
}

// WithParseOptions sets the stylesheet fetcher and dimension prober.
func WithParseOptions(opts discovery.ParseOptions) StaticOption {
	return func(t *StaticTab) { t.parse = opts }
}

// WithLogger sets the tab logger.
func WithLogger(l *slog.Logger) StaticOption {
	return func(t *StaticTab) { t.logger = l }
}

// NewStaticTab opens address through fetcher.
func NewStaticTab(address string, fetcher discovery.Fetcher, opts ...StaticOption) *StaticTab {
	t := &StaticTab{
		id:      uuid.NewString(),
		address: address,
		fetcher: fetcher,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.parse.Fetcher == nil {
		t.parse.Fetcher = fetcher
	}
	if t.parse.Logger == nil {
		t.parse.Logger = t.logger
	}
	return t
}

func (t *StaticTab) ID() string { return t.id }

func (t *StaticTab) Address(context.Context) (string, error) { return t.address, nil }

func (t *StaticTab) Document(ctx context.Context) (discovery.Document, error) {
	body, err := t.fetcher.Fetch(ctx, t.address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", discovery.ErrUnavailable, err)
	}
	doc, err := discovery.ParseHTML(ctx, bytes.NewReader(body), t.address, t.parse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", discovery.ErrUnavailable, err)
	}
	return doc, nil
}

func (t *StaticTab) Observe(ctx context.Context, onChange func()) (func(), error) {
	if t.poll <= 0 {
		return func() {}, nil
	}
	digest := func() ([sha1.Size]byte, bool) {
		body, err := t.fetcher.Fetch(ctx, t.address)
		if err != nil {
			t.logger.Debug("static tab poll failed", "address", t.address, "error", err)
			return [sha1.Size]byte{}, false
		}
		return sha1.Sum(body), true
	}
	last, _ := digest()

	pctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(t.poll)
		defer tick.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-tick.C:
			}
			sum, ok := digest()
			if ok && sum != last {
				last = sum
				onChange()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// FileFetcher serves file:// locators and bare paths from disk and hands
// everything else to Next.
type FileFetcher struct {
	Next discovery.Fetcher
}

func (f FileFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if p, ok := LocalPath(locator); ok {
		return os.ReadFile(p)
	}
	if f.Next == nil {
		return nil, fmt.Errorf("page: cannot fetch %s", locator)
	}
	return f.Next.Fetch(ctx, locator)
}

// LocalPath reports whether locator names a local file and returns its path.
func LocalPath(locator string) (string, bool) {
	if strings.HasPrefix(locator, "file://") {
		return strings.TrimPrefix(locator, "file://"), true
	}
	if strings.Contains(locator, "://") || discovery.IsDataURL(locator) {
		return "", false
	}
	return locator, true
}
