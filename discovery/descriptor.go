// Package discovery finds the visual media embedded in a document snapshot.
//
// A scan walks three sources in a fixed order (image elements, computed
// background images, canvases) and merges them into one list deduplicated by
// locator. Documents come from a static HTML parse (ParseHTML) or from a live
// browser page that produces a Snapshot.
package discovery

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind is the normalized media type tag of a descriptor.
type Kind string

const (
	KindJPG  Kind = "jpg"
	KindPNG  Kind = "png"
	KindGIF  Kind = "gif"
	KindWebP Kind = "webp"
	KindSVG  Kind = "svg"
)

// CanvasKind is the lossless raster format canvases are serialized to.
const CanvasKind = KindPNG

// CanvasMIME is the MIME type requested when serializing a canvas.
const CanvasMIME = "image/png"

// BackgroundLabel labels descriptors discovered through background-image.
const BackgroundLabel = "background image"

// AllKinds returns every recognized kind in display order.
func AllKinds() []Kind {
	return []Kind{KindJPG, KindPNG, KindGIF, KindWebP, KindSVG}
}

func canvasLabel(index int) string {
	return "canvas " + strconv.Itoa(index)
}

// Descriptor is one discovered visual asset. Descriptors are values: two
// scans of the same document produce distinct descriptors that compare equal
// by Source.
type Descriptor struct {
	Source string `json:"source" yaml:"source"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Label  string `json:"label" yaml:"label"`
	Kind   Kind   `json:"kind" yaml:"kind"`
}

// ErrInvalidOptions reports a FilterOptions value that cannot drive a scan.
var ErrInvalidOptions = errors.New("discovery: invalid filter options")

// FilterOptions selects which descriptors a scan keeps.
type FilterOptions struct {
	IncludeBackgroundImages bool   `json:"includeBackgroundImages" yaml:"include_background"`
	DetectOnPanelOpen       bool   `json:"detectOnPanelOpen" yaml:"detect_on_open"`
	MinWidth                int    `json:"minWidth" yaml:"min_width"`
	MinHeight               int    `json:"minHeight" yaml:"min_height"`
	AcceptedKinds           []Kind `json:"acceptedKinds" yaml:"accepted_kinds"`
}

// DefaultFilterOptions mirrors the control panel's initial form state.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		IncludeBackgroundImages: true,
		DetectOnPanelOpen:       true,
		MinWidth:                100,
		MinHeight:               100,
		AcceptedKinds:           AllKinds(),
	}
}

// Widened returns a copy that accepts every descriptor the engine can
// produce. The watcher uses it so a stale filter does not hide new content.
func (o FilterOptions) Widened() FilterOptions {
	return FilterOptions{
		IncludeBackgroundImages: true,
		DetectOnPanelOpen:       o.DetectOnPanelOpen,
		MinWidth:                0,
		MinHeight:               0,
		AcceptedKinds:           AllKinds(),
	}
}

// AcceptAllOptions keeps every descriptor and scans backgrounds.
func AcceptAllOptions() FilterOptions {
	return FilterOptions{}.Widened()
}

// Accepts reports whether kind is in AcceptedKinds.
func (o FilterOptions) Accepts(kind Kind) bool {
	for _, k := range o.AcceptedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate checks the option ranges.
func (o FilterOptions) Validate() error {
	if o.MinWidth < 0 || o.MinHeight < 0 {
		return fmt.Errorf("%w: minimum dimensions must be >= 0 (got %dx%d)", ErrInvalidOptions, o.MinWidth, o.MinHeight)
	}
	if len(o.AcceptedKinds) == 0 {
		return fmt.Errorf("%w: at least one image type must be accepted", ErrInvalidOptions)
	}
	return nil
}

// Clone returns a deep copy.
func (o FilterOptions) Clone() FilterOptions {
	out := o
	out.AcceptedKinds = append([]Kind(nil), o.AcceptedKinds...)
	return out
}
