package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"imagepicker/discovery"
)

const mutationBinding = "__imagepickerMutated"

// snapshotJS serializes what discovery reads from a live page.
const snapshotJS = `(() => {
  const images = Array.from(document.images).map(img => ({
    src: img.currentSrc || img.src || "",
    naturalWidth: img.naturalWidth || 0,
    naturalHeight: img.naturalHeight || 0,
    width: img.width || 0,
    height: img.height || 0,
    alt: img.alt || ""
  }));
  const backgrounds = [];
  for (const el of document.querySelectorAll("*")) {
    const bg = getComputedStyle(el).backgroundImage;
    if (bg && bg !== "none") backgrounds.push(bg);
  }
  const canvases = Array.from(document.querySelectorAll("canvas")).map(c => {
    try {
      return {width: c.width, height: c.height, data: c.toDataURL("image/png")};
    } catch (e) {
      return {width: c.width, height: c.height, data: "", error: String(e)};
    }
  });
  return JSON.stringify({address: location.href, images, backgrounds, canvases});
})()`

// observeJS installs one MutationObserver that reports each batch through
// the binding. Re-running it is harmless.
const observeJS = `(() => {
  if (window.__imagepickerObserver) return true;
  const obs = new MutationObserver(() => {
    try { window.` + mutationBinding + `("1"); } catch (e) {}
  });
  obs.observe(document.documentElement || document, {
    childList: true, subtree: true, attributes: true,
    attributeFilter: ["src", "srcset", "style", "class"]
  });
  window.__imagepickerObserver = obs;
  return true;
})()`

const disconnectJS = `(() => {
  if (window.__imagepickerObserver) {
    window.__imagepickerObserver.disconnect();
    delete window.__imagepickerObserver;
  }
  return true;
})()`

// Page is one Chrome tab.
type Page struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	onChange func()
	bound    bool
	closed   bool
}

func newPage(ctx context.Context, cancel context.CancelFunc, timeout time.Duration, logger *slog.Logger) *Page {
	p := &Page{id: uuid.NewString(), ctx: ctx, cancel: cancel, timeout: timeout, logger: logger}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == mutationBinding {
			p.mu.Lock()
			fn := p.onChange
			p.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})
	return p
}

// run executes actions on the tab, bounded by the page timeout and ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) ID() string { return p.id }

// Address returns the tab's current location.
func (p *Page) Address(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// Document snapshots the page by script.
func (p *Page) Document(ctx context.Context) (discovery.Document, error) {
	var raw string
	if err := p.run(ctx, chromedp.Evaluate(snapshotJS, &raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", discovery.ErrUnavailable, err)
	}
	return decodeSnapshot(raw)
}

func decodeSnapshot(raw string) (*discovery.Snapshot, error) {
	var snap discovery.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", discovery.ErrUnavailable, err)
	}
	return &snap, nil
}

// Observe installs the in-page observer. Only one callback is active per
// page; a new Observe replaces the previous one.
func (p *Page) Observe(ctx context.Context, onChange func()) (func(), error) {
	p.mu.Lock()
	needBinding := !p.bound
	p.mu.Unlock()

	var actions []chromedp.Action
	if needBinding {
		actions = append(actions, runtime.AddBinding(mutationBinding))
	}
	var ok bool
	actions = append(actions, chromedp.Evaluate(observeJS, &ok))
	if err := p.run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("install observer: %w", err)
	}

	p.mu.Lock()
	p.bound = true
	p.onChange = onChange
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.onChange = nil
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			var done bool
			if err := p.run(context.Background(), chromedp.Evaluate(disconnectJS, &done)); err != nil {
				p.logger.Debug("disconnect observer", "tab", p.id, "error", err)
			}
		})
	}, nil
}

// Evaluate runs script in the page and decodes its result into out.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	return p.run(ctx, chromedp.Evaluate(script, out))
}

// Close closes the tab.
func (p *Page) Close() {
	p.mu.Lock()
	p.closed = true
	p.onChange = nil
	p.mu.Unlock()
	p.cancel()
}
