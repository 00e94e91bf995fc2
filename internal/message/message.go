// Package message defines the envelopes exchanged between the control panel,
// the overlay and the background coordinator.
//
// Each action is its own Go type. Handler has one method per action and
// Dispatch is the only place that switches on the concrete type, so adding
// an action without handling it everywhere fails to compile.
package message

import (
	"context"
	"errors"
	"fmt"

	"imagepicker/discovery"
)

// Action is the wire tag of an envelope.
type Action string

const (
	ActionPing            Action = "ping"
	ActionPong            Action = "pong"
	ActionScanImages      Action = "scanImages"
	ActionScanResult      Action = "scanResult"
	ActionShowImageGrid   Action = "showImageGrid"
	ActionDownloadImages  Action = "downloadImages"
	ActionUpdateSelection Action = "updateSelection"
)

var (
	// ErrUnsupported is returned by a context asked to handle an action it
	// does not serve.
	ErrUnsupported = errors.New("message: action not supported by this context")
	// ErrUnknownAction is returned when decoding or dispatching an unknown tag.
	ErrUnknownAction = errors.New("message: unknown action")
)

// Message is one envelope.
type Message interface {
	Action() Action
	isMessage()
}

// Ping probes whether the overlay logic is loaded in a page.
type Ping struct{}

// Pong acknowledges a Ping.
type Pong struct {
	Status string `json:"status"`
}

// ScanImages asks the overlay context to run discovery.
type ScanImages struct {
	Options discovery.FilterOptions `json:"options"`
}

// ScanResult answers ScanImages.
type ScanResult struct {
	Images []discovery.Descriptor `json:"images"`
}

// ShowImageGrid hands a result set and selection to the overlay.
type ShowImageGrid struct {
	Images         []discovery.Descriptor `json:"images"`
	SelectedImages []string               `json:"selectedImages"`
}

// DownloadImages commits a selection to the background coordinator.
type DownloadImages struct {
	Images []string `json:"images"`
}

// UpdateSelection reports the overlay's selection to the control panel.
type UpdateSelection struct {
	SelectedImages []string `json:"selectedImages"`
}

func (Ping) Action() Action            { return ActionPing }
func (Pong) Action() Action            { return ActionPong }
func (ScanImages) Action() Action      { return ActionScanImages }
func (ScanResult) Action() Action      { return ActionScanResult }
func (ShowImageGrid) Action() Action   { return ActionShowImageGrid }
func (DownloadImages) Action() Action  { return ActionDownloadImages }
func (UpdateSelection) Action() Action { return ActionUpdateSelection }

func (Ping) isMessage()            {}
func (Pong) isMessage()            {}
func (ScanImages) isMessage()      {}
func (ScanResult) isMessage()      {}
func (ShowImageGrid) isMessage()   {}
func (DownloadImages) isMessage()  {}
func (UpdateSelection) isMessage() {}

// Handler serves the requests a context can receive. Replies are only
// produced for request/response actions.
type Handler interface {
	HandlePing(ctx context.Context, m Ping) (Pong, error)
	HandleScanImages(ctx context.Context, m ScanImages) (ScanResult, error)
	HandleShowImageGrid(ctx context.Context, m ShowImageGrid) error
	HandleDownloadImages(ctx context.Context, m DownloadImages) error
	HandleUpdateSelection(ctx context.Context, m UpdateSelection) error
}

// Dispatch routes m to the matching Handler method. Fire-and-forget actions
// return a nil reply.
func Dispatch(ctx context.Context, h Handler, m Message) (Message, error) {
	switch m := m.(type) {
	case Ping:
		return nilIfErr(h.HandlePing(ctx, m))
	case ScanImages:
		return nilIfErr(h.HandleScanImages(ctx, m))
	case ShowImageGrid:
		return nil, h.HandleShowImageGrid(ctx, m)
	case DownloadImages:
		return nil, h.HandleDownloadImages(ctx, m)
	case UpdateSelection:
		return nil, h.HandleUpdateSelection(ctx, m)
	case Pong, ScanResult:
		return nil, fmt.Errorf("%w: %s is a reply", ErrUnsupported, m.Action())
	case nil:
		return nil, ErrUnknownAction
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, m)
	}
}

func nilIfErr[T Message](reply T, err error) (Message, error) {
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Unimplemented answers every action with ErrUnsupported. Contexts embed it
// and override the actions they serve.
type Unimplemented struct{}

func (Unimplemented) HandlePing(context.Context, Ping) (Pong, error) {
	return Pong{}, fmt.Errorf("%w: %s", ErrUnsupported, ActionPing)
}

func (Unimplemented) HandleScanImages(context.Context, ScanImages) (ScanResult, error) {
	return ScanResult{}, fmt.Errorf("%w: %s", ErrUnsupported, ActionScanImages)
}

func (Unimplemented) HandleShowImageGrid(context.Context, ShowImageGrid) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, ActionShowImageGrid)
}

func (Unimplemented) HandleDownloadImages(context.Context, DownloadImages) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, ActionDownloadImages)
}

func (Unimplemented) HandleUpdateSelection(context.Context, UpdateSelection) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, ActionUpdateSelection)
}
