// Package page models the host's tabs: something with an address, a
// document that can be snapshotted, and a stream of mutation notices.
package page

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"imagepicker/discovery"
)

var ErrNoTab = errors.New("page: no such tab")

// Tab is one open document.
type Tab interface {
	ID() string
	// Address is the document's current location.
	Address(ctx context.Context) (string, error)
	// Document captures the image-bearing parts of the page. It fails with
	// discovery.ErrUnavailable when the host refuses access.
	Document(ctx context.Context) (discovery.Document, error)
	// Observe calls onChange once per batch of structural or attribute
	// changes until stop is called.
	Observe(ctx context.Context, onChange func()) (stop func(), err error)
}

// Registry tracks open tabs by id.
type Registry struct {
	mu   sync.RWMutex
	tabs map[string]Tab
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tabs: map[string]Tab{}}
}

// Add registers t, replacing any tab with the same id.
func (r *Registry) Add(t Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs[t.ID()] = t
}

// Get returns the tab with id.
func (r *Registry) Get(id string) (Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTab, id)
	}
	return t, nil
}

// Remove forgets id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, id)
}

// IDs lists the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tabs))
	for id := range r.tabs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
