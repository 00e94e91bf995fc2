package overlay

import (
	"log/slog"

	"imagepicker/discovery"
)

// Renderer draws the grid. Calls are made with the overlay's lock held and
// must not call back into the Overlay.
type Renderer interface {
	Show(images []discovery.Descriptor, selected []string)
	Append(images []discovery.Descriptor)
	Mark(source string, selected bool)
	Count(selected int)
	Notify(text string)
	Hide()
}

// NopRenderer draws nothing.
type NopRenderer struct{}

func (NopRenderer) Show([]discovery.Descriptor, []string) {}
func (NopRenderer) Append([]discovery.Descriptor)         {}
func (NopRenderer) Mark(string, bool)                     {}
func (NopRenderer) Count(int)                             {}
func (NopRenderer) Notify(string)                         {}
func (NopRenderer) Hide()                                 {}

// LogRenderer reports grid changes as log records.
type LogRenderer struct {
	Logger *slog.Logger
}

func (r LogRenderer) log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r LogRenderer) Show(images []discovery.Descriptor, selected []string) {
	r.log().Info("overlay shown", "images", len(images), "selected", len(selected))
}

func (r LogRenderer) Append(images []discovery.Descriptor) {
	for _, d := range images {
		r.log().Info("overlay image added", "source", d.Source, "kind", d.Kind, "label", d.Label)
	}
}

func (r LogRenderer) Mark(source string, selected bool) {
	r.log().Debug("overlay mark", "source", source, "selected", selected)
}

func (r LogRenderer) Count(selected int) {
	r.log().Debug("overlay count", "selected", selected)
}

func (r LogRenderer) Notify(text string) {
	r.log().Warn(text)
}

func (r LogRenderer) Hide() {
	r.log().Info("overlay closed")
}
