package discovery

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const defaultProbeWorkers = 8

// Prober decodes image headers to learn natural dimensions, the way a
// browser knows naturalWidth once an image has loaded.
type Prober struct {
	fetcher Fetcher
	cache   *DimensionCache
	workers int
	logger  *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithDimensionCache reuses dimensions across runs.
func WithDimensionCache(c *DimensionCache) ProberOption {
	return func(p *Prober) { p.cache = c }
}

// WithProbeWorkers bounds the number of concurrent fetches.
func WithProbeWorkers(n int) ProberOption {
	return func(p *Prober) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProber returns a prober that loads image bytes through fetcher.
func NewProber(fetcher Fetcher, opts ...ProberOption) *Prober {
	p := &Prober{fetcher: fetcher, workers: defaultProbeWorkers, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns the decoded size of every locator it could read. Failures
// leave the locator out of the result.
func (p *Prober) Probe(ctx context.Context, locators []string) map[string]image.Point {
	out := map[string]image.Point{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	queued := map[string]struct{}{}
	for _, loc := range locators {
		if !validLocator(loc) {
			continue
		}
		if _, dup := queued[loc]; dup {
			continue
		}
		queued[loc] = struct{}{}
		if p.cache != nil {
			if pt, ok := p.cache.Get(loc); ok {
				out[loc] = pt
				continue
			}
		}
		loc := loc
		g.Go(func() error {
			pt, ok := p.probeOne(gctx, loc)
			if !ok {
				return nil
			}
			if p.cache != nil {
				p.cache.Put(loc, pt)
			}
			mu.Lock()
			out[loc] = pt
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Prober) probeOne(ctx context.Context, loc string) (image.Point, bool) {
	if p.fetcher == nil {
		return image.Point{}, false
	}
	b, err := p.fetcher.Fetch(ctx, loc)
	if err != nil {
		p.logger.Debug("probe fetch failed", "src", truncate(loc, 96), "error", err)
		return image.Point{}, false
	}
	if DetectKind(loc) == KindSVG || looksLikeSVG(b) {
		return svgSize(b)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		p.logger.Debug("probe decode failed", "src", truncate(loc, 96), "error", err)
		return image.Point{}, false
	}
	return image.Pt(cfg.Width, cfg.Height), true
}

func looksLikeSVG(b []byte) bool {
	head := b
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

// svgSize reads width/height of the root <svg>, falling back to viewBox.
func svgSize(b []byte) (image.Point, bool) {
	z := html.NewTokenizer(bytes.NewReader(b))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return image.Point{}, false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if !strings.EqualFold(tok.Data, "svg") {
				continue
			}
			var w, h int
			var viewBox string
			for _, a := range tok.Attr {
				switch strings.ToLower(a.Key) {
				case "width":
					w, _ = cssLengthToPx(a.Val)
				case "height":
					h, _ = cssLengthToPx(a.Val)
				case "viewbox":
					viewBox = a.Val
				}
			}
			if (w == 0 || h == 0) && viewBox != "" {
				f := strings.Fields(strings.ReplaceAll(viewBox, ",", " "))
				if len(f) == 4 {
					vw, _ := strconv.ParseFloat(f[2], 64)
					vh, _ := strconv.ParseFloat(f[3], 64)
					w, h = int(vw+0.5), int(vh+0.5)
				}
			}
			return image.Pt(w, h), w > 0 && h > 0
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
