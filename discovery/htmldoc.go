package discovery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Fetcher loads the bytes behind a locator (network or data URL).
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// ParseOptions tunes how a static document is materialized.
type ParseOptions struct {
	// Fetcher loads external stylesheets. Nil skips them.
	Fetcher Fetcher
	// Prober fills in natural image dimensions. Nil leaves them unknown.
	Prober *Prober
	Logger *slog.Logger
}

var (
	selImages   = cascadia.MustCompile("img")
	selCanvases = cascadia.MustCompile("canvas")
	selAll      = cascadia.MustCompile("*")
	selBase     = cascadia.MustCompile("base[href]")
)

// Default canvas size when the element omits width/height.
const (
	defaultCanvasWidth  = 300
	defaultCanvasHeight = 150
)

// HTMLDocument is a Document built from static markup. It has no script
// engine: canvases are blank and only markup dimensions are known unless a
// Prober decodes the images.
type HTMLDocument struct {
	address     string
	root        *html.Node
	images      []Image
	backgrounds []string
	canvases    []Canvas
}

// ParseHTML parses r as the document found at address.
func ParseHTML(ctx context.Context, r io.Reader, address string, opts ParseOptions) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	doc := &HTMLDocument{address: address, root: root}
	base := documentBase(root, address)

	for _, n := range selImages.MatchAll(root) {
		src := strings.TrimSpace(getAttr(n, "src"))
		if src != "" && !IsDataURL(src) {
			if abs := resolveAbsURL(base, src); abs != "" {
				src = abs
			}
		}
		doc.images = append(doc.images, Image{
			Source: src,
			Width:  attrPx(n, "width"),
			Height: attrPx(n, "height"),
			Alt:    getAttr(n, "alt"),
		})
	}
	if opts.Prober != nil {
		sources := make([]string, 0, len(doc.images))
		for _, img := range doc.images {
			sources = append(sources, img.Source)
		}
		dims := opts.Prober.Probe(ctx, sources)
		for i := range doc.images {
			if p, ok := dims[doc.images[i].Source]; ok {
				doc.images[i].NaturalWidth, doc.images[i].NaturalHeight = p.X, p.Y
			}
		}
	}

	doc.backgrounds = ComputedBackgrounds(ctx, root, base, opts.Fetcher, logger)

	for _, n := range selCanvases.MatchAll(root) {
		w, h := attrPx(n, "width"), attrPx(n, "height")
		if getAttr(n, "width") == "" {
			w = defaultCanvasWidth
		}
		if getAttr(n, "height") == "" {
			h = defaultCanvasHeight
		}
		doc.canvases = append(doc.canvases, &blankCanvas{width: w, height: h})
	}
	logger.Debug("parsed document", "address", address, "images", len(doc.images), "backgrounds", len(doc.backgrounds), "canvases", len(doc.canvases))
	return doc, nil
}

// ComputedBackgrounds cascades the document's stylesheets and returns the
// background-image value of every element that has one.
func ComputedBackgrounds(ctx context.Context, root *html.Node, base string, fetcher Fetcher, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	ss := buildStylesheet(ctx, root, base, fetcher, logger)
	var out []string
	for _, n := range selAll.MatchAll(root) {
		if v := computeBackground(n, ss, base); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (d *HTMLDocument) Address() string       { return d.address }
func (d *HTMLDocument) Root() *html.Node      { return d.root }
func (d *HTMLDocument) Images() []Image       { return d.images }
func (d *HTMLDocument) Backgrounds() []string { return d.backgrounds }
func (d *HTMLDocument) Canvases() []Canvas    { return d.canvases }

func documentBase(root *html.Node, address string) string {
	if n := selBase.MatchFirst(root); n != nil {
		if abs := resolveAbsURL(address, getAttr(n, "href")); abs != "" {
			return abs
		}
	}
	return address
}

func attrPx(n *html.Node, name string) int {
	v := strings.TrimSuffix(strings.TrimSpace(getAttr(n, name)), "px")
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0
	}
	return i
}

// blankCanvas serializes to a transparent PNG, which is what a browser yields
// for a canvas nothing has drawn on.
type blankCanvas struct {
	width, height int
}

func (c *blankCanvas) Size() (int, int) { return c.width, c.height }

func (c *blankCanvas) DataURL(mime string) (string, error) {
	if c.width <= 0 || c.height <= 0 {
		return "", fmt.Errorf("canvas %dx%d: %w", c.width, c.height, ErrTainted)
	}
	if mime != CanvasMIME {
		return "", fmt.Errorf("canvas encoding %q not supported", mime)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, c.width, c.height))); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
