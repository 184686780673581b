package adapter

import (
	"context"
	"net/url"

	"basket-sync/internal/model"
)

// Mock implements Retailer for testing.
// Each method can be configured via function fields.
type Mock struct {
	Name string

	CheckAvailabilityFunc func(ctx context.Context, item string) (bool, error)
}

// Info returns a descriptor built from Name.
func (m *Mock) Info() model.Retailer {
	return model.Retailer{
		Name:         m.Name,
		DisplayName:  m.Name,
		CheckoutURL:  m.CheckoutURL(),
		HasInventory: m.CheckAvailabilityFunc != nil,
	}
}

// SearchURL returns a deterministic fake search link.
func (m *Mock) SearchURL(item string) string {
	return "https://" + m.Name + ".example/search?q=" + url.QueryEscape(item)
}

// CheckoutURL returns a deterministic fake checkout link.
func (m *Mock) CheckoutURL() string {
	return "https://" + m.Name + ".example/checkout"
}

// CheckAvailability calls the configured CheckAvailabilityFunc or reports
// the item as available.
func (m *Mock) CheckAvailability(ctx context.Context, item string) (bool, error) {
	if m.CheckAvailabilityFunc != nil {
		return m.CheckAvailabilityFunc(ctx, item)
	}
	return true, nil
}

// Verify Mock implements Retailer interface at compile time.
var _ Retailer = (*Mock)(nil)
