// Package storefront implements adapter.Retailer for grocery storefronts
// reached over HTTP: search links, checkout link and an inventory probe.
package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"basket-sync/internal/adapter"
	"basket-sync/internal/model"
	"basket-sync/internal/transport"
)

// =============================================================================
// INVENTORY CONTRACT
// =============================================================================
//
// A retailer inventory endpoint is a URL template containing {query}:
//
//   GET https://inventory.example/v1/availability?q={query}
//
//   200 {"available": true|false}   definite answer
//   404                             item unknown → absent
//   429, 5xx                        retried with exponential backoff
//   anything else                   error (the gate records probe_failed)
//
// Retailers without an inventory endpoint admit every item, which matches
// how the search-link export behaves: the shopper resolves stock on the
// retailer's own site.
// =============================================================================

const (
	queryPlaceholder = "{query}"

	// DefaultTimeout bounds a single inventory HTTP call.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2

	// DefaultBackoff is the wait before the first retry; it doubles after.
	DefaultBackoff = 200 * time.Millisecond

	// maxRetryAfter caps how long a Retry-After header can make us wait.
	maxRetryAfter = 5 * time.Second
)

// Config describes one retailer.
type Config struct {
	Name         string
	DisplayName  string
	SearchURL    string // Template containing {query}
	CheckoutURL  string
	InventoryURL string // Template containing {query}; empty = no inventory feed
	APIKey       string

	// Optional tuning. Zero values take the defaults above.
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	TLSProfile transport.Profile

	// HTTPClient overrides the fingerprinting client (tests).
	HTTPClient *http.Client
}

// Client implements adapter.Retailer for one storefront.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("retailer name is required")
	}
	if !strings.Contains(cfg.SearchURL, queryPlaceholder) {
		return nil, fmt.Errorf("retailer %s: search_url must contain %s", cfg.Name, queryPlaceholder)
	}
	if _, err := url.Parse(cfg.CheckoutURL); err != nil || cfg.CheckoutURL == "" {
		return nil, fmt.Errorf("retailer %s: invalid checkout_url %q", cfg.Name, cfg.CheckoutURL)
	}
	if cfg.InventoryURL != "" && !strings.Contains(cfg.InventoryURL, queryPlaceholder) {
		return nil, fmt.Errorf("retailer %s: inventory_url must contain %s", cfg.Name, queryPlaceholder)
	}

	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.Name
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = DefaultBackoff
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Storefront CDNs fingerprint TLS; see internal/transport.
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport.New(cfg.TLSProfile, cfg.Timeout),
		}
	}

	return &Client{httpClient: httpClient, cfg: cfg}, nil
}

// Info implements adapter.Retailer.
func (c *Client) Info() model.Retailer {
	return model.Retailer{
		Name:         c.cfg.Name,
		DisplayName:  c.cfg.DisplayName,
		CheckoutURL:  c.cfg.CheckoutURL,
		HasInventory: c.cfg.InventoryURL != "",
	}
}

// SearchURL implements adapter.Retailer. The item is escaped as a URI
// component (spaces become %20).
func (c *Client) SearchURL(item string) string {
	return expand(c.cfg.SearchURL, item)
}

// CheckoutURL implements adapter.Retailer.
func (c *Client) CheckoutURL() string {
	return c.cfg.CheckoutURL
}

// CheckAvailability implements adapter.Retailer.
func (c *Client) CheckAvailability(ctx context.Context, item string) (bool, error) {
	if c.cfg.InventoryURL == "" {
		return true, nil
	}

	endpoint := expand(c.cfg.InventoryURL, item)
	backoff := c.cfg.Backoff

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return false, err
			}
			backoff *= 2
		}

		available, retryAfter, err := c.probeOnce(ctx, endpoint)
		if err == nil {
			return available, nil
		}
		if retryAfter < 0 {
			return false, err
		}
		if retryAfter > backoff {
			backoff = retryAfter
		}
		lastErr = err
	}

	return false, fmt.Errorf("inventory check for %q failed after %d attempts: %w",
		item, c.cfg.MaxRetries+1, lastErr)
}

// probeOnce performs one inventory call. retryAfter is negative when the
// error is not worth retrying, otherwise the minimum wait the server asked
// for (possibly zero).
func (c *Client) probeOnce(ctx context.Context, endpoint string) (available bool, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, -1, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, -1, ctx.Err()
		}
		return false, 0, model.NewUpstreamError(c.cfg.DisplayName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, 0, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var payload availabilityResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return false, -1, model.NewUpstreamError(c.cfg.DisplayName, fmt.Errorf("decoding availability: %w", err))
		}
		if payload.Available == nil {
			return false, -1, model.NewUpstreamError(c.cfg.DisplayName, fmt.Errorf("availability missing from response"))
		}
		return *payload.Available, 0, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return false, parseRetryAfter(resp.Header.Get("Retry-After")), c.parseErrorResponse(resp.StatusCode, body)
	default:
		return false, -1, c.parseErrorResponse(resp.StatusCode, body)
	}
}

type availabilityResponse struct {
	Available *bool  `json:"available"`
	Message   string `json:"message,omitempty"`
}

// parseErrorResponse maps an inventory error status to an APIError.
func (c *Client) parseErrorResponse(statusCode int, body []byte) error {
	var payload availabilityResponse
	json.Unmarshal(body, &payload) // Best effort parse

	switch statusCode {
	case 400:
		msg := payload.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("inventory query", msg)
	case 401, 403:
		return model.NewUpstreamError(c.cfg.DisplayName, fmt.Errorf("authentication failed (status %d)", statusCode))
	case 429:
		return model.NewRateLimitError(c.cfg.DisplayName)
	default:
		return model.NewUpstreamError(c.cfg.DisplayName,
			fmt.Errorf("status %d: %s", statusCode, payload.Message))
	}
}

// expand substitutes the escaped item into a {query} template.
func expand(template, item string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(item), "+", "%20")
	return strings.ReplaceAll(template, queryPlaceholder, escaped)
}

// parseRetryAfter reads a delay-seconds Retry-After value, capped.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Verify Client implements Retailer interface at compile time.
var _ adapter.Retailer = (*Client)(nil)
