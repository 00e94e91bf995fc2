// Package session ties the persisted panel state to the document address it
// was captured against. Opening the panel on a different address discards
// the images and selection before anything else reads them.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"imagepicker/discovery"
	"imagepicker/internal/store"
)

// State is the persisted snapshot.
type State struct {
	Address  string                  `json:"lastAddress" yaml:"last_address"`
	Images   []discovery.Descriptor  `json:"images" yaml:"images"`
	Selected []string                `json:"selectedImages" yaml:"selected_images"`
	Options  discovery.FilterOptions `json:"options" yaml:"options"`
}

// Binding reads and writes State through a store. Every key is written as a
// whole value; there is no multi-key transaction.
type Binding struct {
	store    store.Store
	defaults discovery.FilterOptions
	logger   *slog.Logger
}

// NewBinding creates a binding. defaults are returned when no options have
// been persisted yet.
func NewBinding(s store.Store, defaults discovery.FilterOptions, logger *slog.Logger) *Binding {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binding{store: s, defaults: defaults.Clone(), logger: logger}
}

// Open loads the state for address. When the bound address differs, the
// persisted images and selection are cleared and address is bound, and reset
// is true. Filter options survive a reset.
func (b *Binding) Open(ctx context.Context, address string) (State, bool, error) {
	var last string
	if _, err := b.store.Get(ctx, store.KeyLastAddress, &last); err != nil {
		return State{}, false, fmt.Errorf("load last address: %w", err)
	}

	reset := last != address
	if reset {
		b.logger.Info("session reset", "previous", last, "address", address)
		if err := b.SaveImages(ctx, nil); err != nil {
			return State{}, false, err
		}
		if err := b.SaveSelection(ctx, nil); err != nil {
			return State{}, false, err
		}
		if err := b.Rebind(ctx, address); err != nil {
			return State{}, false, err
		}
	}

	st, err := b.Load(ctx)
	if err != nil {
		return State{}, false, err
	}
	st.Address = address
	return st, reset, nil
}

// Load reads the persisted state without applying the address rule.
func (b *Binding) Load(ctx context.Context) (State, error) {
	st := State{Options: b.defaults.Clone()}
	if _, err := b.store.Get(ctx, store.KeyLastAddress, &st.Address); err != nil {
		return State{}, fmt.Errorf("load last address: %w", err)
	}
	if _, err := b.store.Get(ctx, store.KeyImages, &st.Images); err != nil {
		return State{}, fmt.Errorf("load images: %w", err)
	}
	if _, err := b.store.Get(ctx, store.KeySelectedImages, &st.Selected); err != nil {
		return State{}, fmt.Errorf("load selection: %w", err)
	}
	var opts discovery.FilterOptions
	ok, err := b.store.Get(ctx, store.KeyOptions, &opts)
	if err != nil {
		return State{}, fmt.Errorf("load options: %w", err)
	}
	if ok && opts.Validate() == nil {
		st.Options = opts
	}
	if st.Images == nil {
		st.Images = []discovery.Descriptor{}
	}
	if st.Selected == nil {
		st.Selected = []string{}
	}
	return st, nil
}

// Save overwrites the binding after a successful scan.
func (b *Binding) Save(ctx context.Context, st State) error {
	if err := b.SaveImages(ctx, st.Images); err != nil {
		return err
	}
	if err := b.SaveSelection(ctx, st.Selected); err != nil {
		return err
	}
	if err := b.SaveOptions(ctx, st.Options); err != nil {
		return err
	}
	return b.Rebind(ctx, st.Address)
}

// SaveImages replaces the persisted descriptor list.
func (b *Binding) SaveImages(ctx context.Context, images []discovery.Descriptor) error {
	if images == nil {
		images = []discovery.Descriptor{}
	}
	if err := b.store.Set(ctx, store.KeyImages, images); err != nil {
		return fmt.Errorf("save images: %w", err)
	}
	return nil
}

// SaveSelection replaces the persisted selection.
func (b *Binding) SaveSelection(ctx context.Context, selected []string) error {
	if selected == nil {
		selected = []string{}
	}
	if err := b.store.Set(ctx, store.KeySelectedImages, selected); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

// SaveOptions replaces the persisted filter options.
func (b *Binding) SaveOptions(ctx context.Context, opts discovery.FilterOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := b.store.Set(ctx, store.KeyOptions, opts); err != nil {
		return fmt.Errorf("save options: %w", err)
	}
	return nil
}

// Rebind records address as the document the state belongs to.
func (b *Binding) Rebind(ctx context.Context, address string) error {
	if err := b.store.Set(ctx, store.KeyLastAddress, address); err != nil {
		return fmt.Errorf("save last address: %w", err)
	}
	return nil
}
