// Package model holds the types shared across the basket service: cart
// items, retailer descriptors and the structured API errors.
package model

import "time"

// CartItem is one purchase line held in a session's cart.
// Name and Quantity are free text exactly as supplied by the source; the
// quantity is display-only and never parsed.
// A checked item is one the shopper has already crossed off; it stays in
// the cart but is left out of retailer exports.
type CartItem struct {
	Name     string    `json:"name"`
	Quantity string    `json:"quantity"`
	Checked  bool      `json:"checked"`
	AddedAt  time.Time `json:"added_at"` // Set by the cart store on write
}

// SeedItem is a (name, quantity) pair produced by a shopping-list generator
// and loaded into a session with a seed operation.
type SeedItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Checked  bool   `json:"checked,omitempty"`
}

// Retailer describes a grocery retailer the service can export to and probe.
type Retailer struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	CheckoutURL  string `json:"checkout_url"`
	HasInventory bool   `json:"has_inventory"`
}

// ExportLine is a cart item paired with the retailer search page for it.
type ExportLine struct {
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	SearchURL string `json:"search_url"`
}

// Export is the ordered retailer hand-off for a cart.
type Export struct {
	SessionID   string       `json:"session_id"`
	Retailer    string       `json:"retailer"`
	Lines       []ExportLine `json:"lines"`
	CheckoutURL string       `json:"checkout_url"`
}
