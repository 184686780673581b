// Package handler provides HTTP handlers for the basket API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"basket-sync/internal/adapter"
	"basket-sync/internal/cart"
	"basket-sync/internal/inventory"
	"basket-sync/internal/middleware"
	"basket-sync/internal/model"
	"basket-sync/internal/reconcile"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine    *reconcile.Engine
	store     *cart.Store
	retailers *adapter.Registry
	logger    *slog.Logger

	cache    inventory.Cache
	cacheTTL time.Duration

	mu     sync.Mutex
	probes map[string]inventory.Probe
}

// Option configures a Handler.
type Option func(*Handler)

// WithAvailabilityCache puts cache in front of every retailer inventory
// probe. Answers are kept for ttl.
func WithAvailabilityCache(cache inventory.Cache, ttl time.Duration) Option {
	return func(h *Handler) {
		h.cache = cache
		h.cacheTTL = ttl
	}
}

// New creates a new Handler over the engine, its cart store and the
// configured retailers.
func New(engine *reconcile.Engine, store *cart.Store, retailers *adapter.Registry, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		engine:    engine,
		store:     store,
		retailers: retailers,
		logger:    logger,
		probes:    make(map[string]inventory.Probe),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Sessions and carts
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}/cart", h.handleGetCart)
	mux.HandleFunc("PUT /sessions/{id}/cart", h.handleSeedCart)
	mux.HandleFunc("PATCH /sessions/{id}/cart/{index}", h.handleCheckItem)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleDiscardSession)
	mux.HandleFunc("GET /sessions/{id}/export", h.handleExport)

	// Same cart operations addressed by the Basket-Session header
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("PUT /cart", h.handleSeedCart)
	mux.HandleFunc("PATCH /cart/{index}", h.handleCheckItem)

	// Reconciliation
	mux.HandleFunc("POST /transfers", h.handleTransfer)

	mux.HandleFunc("GET /retailers", h.handleListRetailers)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// === Request/Response Types ===

type healthResponse struct {
	Status string `json:"status"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type cartResponse struct {
	SessionID string           `json:"session_id"`
	Items     []model.CartItem `json:"items"`
}

type seedRequest struct {
	Items []model.SeedItem `json:"items"`
}

type checkRequest struct {
	Checked *bool `json:"checked"`
}

type transferRequest struct {
	SourceSession string `json:"source_session"`
	TargetSession string `json:"target_session"`
	Retailer      string `json:"retailer,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

type transferResponse struct {
	SourceSession string            `json:"source_session"`
	TargetSession string            `json:"target_session"`
	Retailer      string            `json:"retailer"`
	Result        *reconcile.Result `json:"result"`
}

type retailersResponse struct {
	Default   string           `json:"default"`
	Retailers []model.Retailer `json:"retailers"`
}

// === Handlers ===

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleCreateSession mints a session ID. The cart itself is created lazily
// on its first write.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusCreated, sessionResponse{SessionID: uuid.NewString()})
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, cartResponse{
		SessionID: id,
		Items:     h.store.GetCart(id),
	})
}

// handleSeedCart replaces the session's cart with the request items.
func (h *Handler) handleSeedCart(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req seedRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := validateSeed(req.Items); err != nil {
		h.writeError(w, err)
		return
	}

	items := h.store.Seed(id, req.Items)
	h.logger.Debug("cart seeded",
		slog.String("session", id),
		slog.Int("items", len(items)))

	h.writeJSON(w, http.StatusOK, cartResponse{SessionID: id, Items: items})
}

// handleCheckItem marks the item at {index} as checked or unchecked and
// returns the whole cart.
func (h *Handler) handleCheckItem(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.writeError(w, model.NewValidationError("index", "must be an integer"))
		return
	}

	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Checked == nil {
		h.writeError(w, model.NewValidationError("checked", "required"))
		return
	}

	if _, err := h.store.SetChecked(id, index, *req.Checked); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Debug("cart item checked",
		slog.String("session", id),
		slog.Int("index", index),
		slog.Bool("checked", *req.Checked))

	h.writeJSON(w, http.StatusOK, cartResponse{SessionID: id, Items: h.store.GetCart(id)})
}

func (h *Handler) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.store.Discard(id) {
		h.writeError(w, model.NewNotFoundError("session"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.transfer(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) transfer(ctx context.Context, req transferRequest) (*transferResponse, error) {
	if req.SourceSession == "" {
		return nil, model.NewValidationError("source_session", "required")
	}
	if req.TargetSession == "" {
		return nil, model.NewValidationError("target_session", "required")
	}
	if req.SourceSession == req.TargetSession {
		return nil, model.NewValidationError("target_session", "must differ from source_session")
	}

	rt, err := h.retailers.Get(req.Retailer)
	if err != nil {
		return nil, err
	}

	run := h.engine.TransferBasket
	if req.DryRun {
		run = h.engine.Preview
	}
	result, err := run(ctx, req.SourceSession, req.TargetSession, h.probeFor(rt))
	if err != nil {
		return nil, transferError(err)
	}

	return &transferResponse{
		SourceSession: req.SourceSession,
		TargetSession: req.TargetSession,
		Retailer:      rt.Info().Name,
		Result:        result,
	}, nil
}

func (h *Handler) handleListRetailers(w http.ResponseWriter, r *http.Request) {
	def := ""
	if rt, err := h.retailers.Get(""); err == nil {
		def = rt.Info().Name
	}
	h.writeJSON(w, http.StatusOK, retailersResponse{
		Default:   def,
		Retailers: h.retailers.List(),
	})
}

// handleExport returns the cart as an ordered list of retailer search links.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rt, err := h.retailers.Get(r.URL.Query().Get("retailer"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, adapter.Export(rt, id, h.store.GetCart(id)))
}

// probeFor returns the inventory probe for a retailer, cached when an
// availability cache is configured. Probes are built once per retailer so
// concurrent transfers share in-flight lookups.
func (h *Handler) probeFor(rt adapter.Retailer) inventory.Probe {
	info := rt.Info()
	if !info.HasInventory {
		return inventory.AlwaysAvailable
	}
	if h.cache == nil {
		return rt.CheckAvailability
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.probes[info.Name]; ok {
		return p
	}
	p := inventory.Cached(rt.CheckAvailability, h.cache, h.cacheTTL, info.Name)
	h.probes[info.Name] = p
	return p
}

// sessionID resolves the session a cart request addresses: the {id} path
// value on /sessions routes, otherwise the Basket-Session header.
func sessionID(r *http.Request) (string, error) {
	if id := r.PathValue("id"); id != "" {
		return id, nil
	}
	if id, ok := middleware.SessionFromContext(r.Context()); ok {
		return id, nil
	}
	if header := r.Header.Get(middleware.SessionHeader); header != "" {
		id, err := middleware.ParseSessionHeader(header)
		if err != nil {
			return "", model.NewValidationError(middleware.SessionHeader+" header", err.Error())
		}
		return id, nil
	}
	return "", model.NewValidationError(middleware.SessionHeader+" header", "required")
}

func validateSeed(items []model.SeedItem) error {
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return model.NewValidationError("items", "every item needs a name")
		}
	}
	return nil
}

// transferError maps engine errors onto API errors.
func transferError(err error) error {
	var empty *model.EmptySourceError
	if errors.As(err, &empty) {
		return model.NewEmptySourceError(empty.SessionID)
	}
	return err
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError

	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
