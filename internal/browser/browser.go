// Package browser hosts live documents in headless Chrome. A Page satisfies
// page.Tab: its snapshot is taken by script in the page, and mutations are
// reported through a runtime binding fed by a MutationObserver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrNoBrowser is returned when no Chrome binary can be found.
var ErrNoBrowser = errors.New("browser: chrome not found")

// Options configures the allocator and page loads.
type Options struct {
	Headless bool
	// ExecPath overrides Chrome discovery.
	ExecPath string
	// Timeout bounds each navigation or script evaluation. Default: 25s
	Timeout time.Duration
	// WaitAfterLoad lets late scripts settle before Open returns.
	WaitAfterLoad time.Duration
	UserAgent     string
	Logger        *slog.Logger
}

// DefaultOptions returns a headless configuration.
func DefaultOptions() Options {
	return Options{
		Headless:      true,
		Timeout:       25 * time.Second,
		WaitAfterLoad: 500 * time.Millisecond,
	}
}

// Browser owns one Chrome process shared by every Page.
type Browser struct {
	allocator context.Context
	cancel    context.CancelFunc
	opts      Options
	logger    *slog.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New prepares an exec allocator. Chrome starts lazily on the first Open.
func New(opts Options) (*Browser, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ExecPath == "" && FindChrome() == "" {
		return nil, ErrNoBrowser
	}

	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1280, 800),
	)
	if opts.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), flags...)
	return &Browser{allocator: allocCtx, cancel: cancel, opts: opts, logger: logger}, nil
}

// Close shuts Chrome down. Pages become unusable.
func (b *Browser) Close() {
	b.mu.Lock()
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCtx, b.browserCancel = nil, nil
	}
	b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// Open navigates a new tab to target.
func (b *Browser) Open(ctx context.Context, target string) (*Page, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("browser: empty target url")
	}
	root, err := b.root()
	if err != nil {
		return nil, err
	}
	tabCtx, cancelTab := chromedp.NewContext(root)
	p := newPage(tabCtx, cancelTab, b.opts.Timeout, b.logger)

	actions := []chromedp.Action{
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if b.opts.WaitAfterLoad > 0 {
		actions = append(actions, chromedp.Sleep(b.opts.WaitAfterLoad))
	}
	if err := p.run(ctx, actions...); err != nil {
		cancelTab()
		return nil, fmt.Errorf("open %s: %w", target, err)
	}
	b.logger.Info("page opened", "tab", p.ID(), "url", target)
	return p, nil
}

// root starts Chrome on first use. Tabs are created inside its browser
// context so they share one process. The first Run must not carry a
// deadline: it binds the browser's lifetime.
func (b *Browser) root() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	ctx, cancel := chromedp.NewContext(b.allocator)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	b.browserCtx, b.browserCancel = ctx, cancel
	return ctx, nil
}

// FindChrome returns the first Chrome-like binary on PATH, or "".
func FindChrome() string {
	for _, name := range []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
		"chrome", "headless-shell", "microsoft-edge",
	} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}
