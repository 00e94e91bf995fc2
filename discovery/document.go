package discovery

import "errors"

var (
	// ErrUnavailable is returned by document hosts when the document cannot
	// be read at all (privileged page, closed tab, host denied access).
	ErrUnavailable = errors.New("discovery: document unavailable")

	// ErrTainted is returned by a canvas that refuses serialization.
	ErrTainted = errors.New("discovery: canvas is tainted")
)

// Document is a read-only snapshot of the image-bearing parts of a page.
type Document interface {
	// Images lists image elements in document order.
	Images() []Image
	// Backgrounds lists the computed background-image value of every element
	// that has one, in document order.
	Backgrounds() []string
	// Canvases lists canvas elements in document order.
	Canvases() []Canvas
}

// Image is an image element as rendered by the host.
type Image struct {
	Source        string `json:"src"`
	NaturalWidth  int    `json:"naturalWidth"`
	NaturalHeight int    `json:"naturalHeight"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Alt           string `json:"alt"`
}

// Dimensions prefers the decoded size and falls back to the rendered one.
func (i Image) Dimensions() (int, int) {
	w, h := i.NaturalWidth, i.NaturalHeight
	if w == 0 {
		w = i.Width
	}
	if h == 0 {
		h = i.Height
	}
	return w, h
}

// Canvas is a drawable surface that may be serialized to a data URL.
type Canvas interface {
	Size() (width, height int)
	DataURL(mime string) (string, error)
}

// Snapshot is a Document captured elsewhere (a browser page) and shipped as
// plain data.
type Snapshot struct {
	Address          string             `json:"address"`
	ImageElements    []Image            `json:"images"`
	BackgroundValues []string           `json:"backgrounds"`
	CanvasElements   []SerializedCanvas `json:"canvases"`
}

func (s *Snapshot) Images() []Image       { return s.ImageElements }
func (s *Snapshot) Backgrounds() []string { return s.BackgroundValues }

func (s *Snapshot) Canvases() []Canvas {
	out := make([]Canvas, 0, len(s.CanvasElements))
	for i := range s.CanvasElements {
		out = append(out, &s.CanvasElements[i])
	}
	return out
}

// SerializedCanvas carries a canvas already serialized by its host. Error is
// set when the host could not serialize it.
type SerializedCanvas struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   string `json:"data"`
	Error  string `json:"error,omitempty"`
}

func (c *SerializedCanvas) Size() (int, int) { return c.Width, c.Height }

func (c *SerializedCanvas) DataURL(string) (string, error) {
	if c.Error != "" || c.Data == "" {
		return "", ErrTainted
	}
	return c.Data, nil
}
