package storefront

import (
	"fmt"

	"basket-sync/internal/adapter"
)

// Built-in retailer names.
const (
	Delhaize    = "delhaize"
	Colruyt     = "colruyt"
	AlbertHeijn = "ah"
)

// Builtin returns the retailers known without configuration. None of them
// has an inventory feed; configure InventoryURL to enable probing.
func Builtin() []Config {
	return []Config{
		{
			Name:        Delhaize,
			DisplayName: "Delhaize",
			SearchURL:   "https://www.delhaize.be/fr-be/search?text={query}",
			CheckoutURL: "https://www.delhaize.be/checkout",
		},
		{
			Name:        Colruyt,
			DisplayName: "Colruyt",
			SearchURL:   "https://www.colruyt.be/fr/produits?searchTerm={query}",
			CheckoutURL: "https://www.colruyt.be/fr/panier",
		},
		{
			Name:        AlbertHeijn,
			DisplayName: "Albert Heijn",
			SearchURL:   "https://www.ah.be/zoeken?query={query}",
			CheckoutURL: "https://www.ah.be/winkelmand",
		},
	}
}

// Merge overlays configured retailers onto the built-ins. A configured
// retailer with a built-in name keeps the built-in value for any field it
// leaves empty.
func Merge(builtin, configured []Config) []Config {
	out := make([]Config, 0, len(builtin)+len(configured))
	index := make(map[string]int, len(builtin))
	for _, b := range builtin {
		index[b.Name] = len(out)
		out = append(out, b)
	}

	for _, c := range configured {
		i, ok := index[c.Name]
		if !ok {
			index[c.Name] = len(out)
			out = append(out, c)
			continue
		}
		base := out[i]
		if c.DisplayName != "" {
			base.DisplayName = c.DisplayName
		}
		if c.SearchURL != "" {
			base.SearchURL = c.SearchURL
		}
		if c.CheckoutURL != "" {
			base.CheckoutURL = c.CheckoutURL
		}
		if c.InventoryURL != "" {
			base.InventoryURL = c.InventoryURL
		}
		if c.APIKey != "" {
			base.APIKey = c.APIKey
		}
		if c.TLSProfile != "" {
			base.TLSProfile = c.TLSProfile
		}
		out[i] = base
	}
	return out
}

// NewRegistry builds a Client per config and registers them.
func NewRegistry(fallback string, configs []Config) (*adapter.Registry, error) {
	reg := adapter.NewRegistry(fallback)
	for _, cfg := range configs {
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		reg.Register(c)
	}
	if _, err := reg.Get(""); err != nil {
		return nil, fmt.Errorf("default retailer %q is not configured", fallback)
	}
	return reg, nil
}
