// MCP transport handler for the basket service using the official MCP Go SDK.
// Exposes the cart and transfer operations as MCP tools so an assistant can
// load a generated shopping list and push it into a shopping cart.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"basket-sync/internal/adapter"
	"basket-sync/internal/model"
)

// === MCP Tool Input Types ===

// SeedCartInput is the input schema for seed_cart tool.
type SeedCartInput struct {
	SessionID string           `json:"session_id" jsonschema:"session whose cart is replaced,required"`
	Items     []model.SeedItem `json:"items" jsonschema:"shopping list lines in order,required"`
}

// GetCartInput is the input schema for get_cart tool.
type GetCartInput struct {
	SessionID string `json:"session_id" jsonschema:"session to read,required"`
}

// CheckItemInput is the input schema for check_item tool.
type CheckItemInput struct {
	SessionID string `json:"session_id" jsonschema:"session holding the item,required"`
	Index     int    `json:"index" jsonschema:"zero-based position of the item in the cart,required"`
	Checked   bool   `json:"checked" jsonschema:"true to cross the item off; false to restore it,required"`
}

// TransferInput is the input schema for transfer_basket and preview_transfer.
type TransferInput struct {
	SourceSession string `json:"source_session" jsonschema:"session holding the shopping list,required"`
	TargetSession string `json:"target_session" jsonschema:"session holding the shopping cart,required"`
	Retailer      string `json:"retailer,omitempty" jsonschema:"retailer whose inventory gates the transfer; default when empty"`
}

// ExportCartInput is the input schema for export_cart tool.
type ExportCartInput struct {
	SessionID string `json:"session_id" jsonschema:"session to export,required"`
	Retailer  string `json:"retailer,omitempty" jsonschema:"retailer to link to; default when empty"`
}

// NewMCPServer creates an MCP server with the basket tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "basket-sync",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Basket Sync - move a shopping list into a shopping cart. " +
				"Seed a list session, then transfer it into a cart session; items " +
				"already in the cart and items the retailer cannot supply are reported back.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "seed_cart",
		Description: "Replace a session's cart with the given items, stored verbatim.",
	}, h.mcpSeedCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the items in a session's cart in insertion order. Unknown sessions have an empty cart.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_item",
		Description: "Mark a cart item as checked (already bought) or unchecked. Checked items stay in the cart but are left out of export_cart.",
	}, h.mcpCheckItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "transfer_basket",
		Description: "Merge the source cart into the target cart. Items with a matching name already in the target are skipped; items the retailer reports unavailable are listed as out of stock.",
	}, h.mcpTransferBasket)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_transfer",
		Description: "Classify the source items as transfer_basket would, without changing the target cart.",
	}, h.mcpPreviewTransfer)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_cart",
		Description: "List a cart's unchecked items with retailer search links and the retailer checkout page.",
	}, h.mcpExportCart)

	return server
}

// NewMCPHandler returns an http.Handler serving MCP over Streamable HTTP.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === MCP Tool Handlers ===

func (h *Handler) mcpSeedCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SeedCartInput,
) (*mcp.CallToolResult, *cartResponse, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("session_id is required")
	}
	if err := validateSeed(input.Items); err != nil {
		return nil, nil, h.mcpError(err)
	}

	items := h.store.Seed(input.SessionID, input.Items)
	return nil, &cartResponse{SessionID: input.SessionID, Items: items}, nil
}

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *cartResponse, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("session_id is required")
	}
	return nil, &cartResponse{
		SessionID: input.SessionID,
		Items:     h.store.GetCart(input.SessionID),
	}, nil
}

func (h *Handler) mcpCheckItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CheckItemInput,
) (*mcp.CallToolResult, *cartResponse, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("session_id is required")
	}
	if _, err := h.store.SetChecked(input.SessionID, input.Index, input.Checked); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &cartResponse{
		SessionID: input.SessionID,
		Items:     h.store.GetCart(input.SessionID),
	}, nil
}

func (h *Handler) mcpTransferBasket(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TransferInput,
) (*mcp.CallToolResult, *transferResponse, error) {
	return h.mcpTransfer(ctx, input, false)
}

func (h *Handler) mcpPreviewTransfer(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TransferInput,
) (*mcp.CallToolResult, *transferResponse, error) {
	return h.mcpTransfer(ctx, input, true)
}

func (h *Handler) mcpTransfer(ctx context.Context, input TransferInput, dryRun bool) (*mcp.CallToolResult, *transferResponse, error) {
	resp, err := h.transfer(ctx, transferRequest{
		SourceSession: input.SourceSession,
		TargetSession: input.TargetSession,
		Retailer:      input.Retailer,
		DryRun:        dryRun,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, resp, nil
}

func (h *Handler) mcpExportCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ExportCartInput,
) (*mcp.CallToolResult, *model.Export, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("session_id is required")
	}

	rt, err := h.retailers.Get(input.Retailer)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, adapter.Export(rt, input.SessionID, h.store.GetCart(input.SessionID)), nil
}

// mcpError converts handler errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
