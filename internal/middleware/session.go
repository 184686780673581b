package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"

	"basket-sync/internal/model"
)

// SessionHeader names the basket session a request acts on.
// Format: id="<session>" (RFC 8941 Dictionary), parameters ignored.
const SessionHeader = "Basket-Session"

type sessionKey struct{}

// ParseSessionHeader extracts the session ID from a Basket-Session header.
//
// Examples:
//   - id="4f1c…"            → 4f1c…
//   - id="abc";source=ios   → abc (params ignored)
//
// Returns error if header is empty, malformed, or missing the id key.
func ParseSessionHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("empty Basket-Session header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return "", fmt.Errorf("invalid Basket-Session header: %w", err)
	}

	member, ok := dict.Get("id")
	if !ok {
		return "", errors.New("id key not found in Basket-Session header")
	}

	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", errors.New("id value must be an item")
	}

	id, ok := item.Value.(string)
	if !ok || id == "" {
		return "", errors.New("id value must be a non-empty string")
	}

	return id, nil
}

// FormatSessionHeader renders a Basket-Session header value for id.
func FormatSessionHeader(id string) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("id", httpsfv.NewItem(id))
	return httpsfv.Marshal(dict)
}

// Session returns middleware that resolves the Basket-Session header into
// the request context. Requests without the header pass through untouched;
// a malformed header is rejected with 400.
func Session(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(SessionHeader)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := ParseSessionHeader(header)
			if err != nil {
				logger.Warn("invalid Basket-Session header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeAPIError(w, model.NewValidationError("Basket-Session header", err.Error()))
				return
			}

			if rw, ok := w.(*responseWriter); ok {
				rw.session = id
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), id)))
		})
	}
}

// WithSession returns a context carrying a basket session ID.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFromContext returns the basket session set by Session.
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
