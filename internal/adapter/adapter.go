// Package adapter defines the interface for grocery retailer integrations.
// A retailer knows how to link an item to its search page, where its
// checkout lives, and optionally how to ask its inventory about an item.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"basket-sync/internal/model"
)

// Retailer abstracts one grocery retailer.
type Retailer interface {
	// Info describes the retailer for listing endpoints.
	Info() model.Retailer

	// SearchURL returns the retailer search page for a raw item name.
	SearchURL(item string) string

	// CheckoutURL returns the retailer's checkout page.
	CheckoutURL() string

	// CheckAvailability asks the retailer whether it can supply item.
	// Retailers without an inventory feed report every item as available.
	CheckAvailability(ctx context.Context, item string) (bool, error)
}

// Registry holds the configured retailers by name.
type Registry struct {
	mu        sync.RWMutex
	retailers map[string]Retailer
	fallback  string
}

// NewRegistry creates a registry. fallback names the retailer Get returns
// when asked for the empty name.
func NewRegistry(fallback string, retailers ...Retailer) *Registry {
	r := &Registry{
		retailers: make(map[string]Retailer, len(retailers)),
		fallback:  fallback,
	}
	for _, rt := range retailers {
		r.Register(rt)
	}
	return r
}

// Register adds or replaces a retailer.
func (r *Registry) Register(rt Retailer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retailers[rt.Info().Name] = rt
}

// Get looks up a retailer by name. The empty name selects the default.
func (r *Registry) Get(name string) (Retailer, error) {
	if name == "" {
		name = r.fallback
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.retailers[name]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("retailer %q", name))
	}
	return rt, nil
}

// List returns the retailers sorted by name.
func (r *Registry) List() []model.Retailer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Retailer, 0, len(r.retailers))
	for _, rt := range r.retailers {
		out = append(out, rt.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Export pairs each unchecked cart item, in cart order, with the retailer's
// search page and appends the checkout page.
func Export(rt Retailer, sessionID string, items []model.CartItem) *model.Export {
	lines := make([]model.ExportLine, 0, len(items))
	for _, item := range items {
		if item.Checked {
			continue
		}
		lines = append(lines, model.ExportLine{
			Name:      item.Name,
			Quantity:  item.Quantity,
			SearchURL: rt.SearchURL(item.Name),
		})
	}
	return &model.Export{
		SessionID:   sessionID,
		Retailer:    rt.Info().Name,
		Lines:       lines,
		CheckoutURL: rt.CheckoutURL(),
	}
}
