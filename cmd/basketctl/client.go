package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"basket-sync/internal/middleware"
	"basket-sync/internal/model"
	"basket-sync/internal/reconcile"
)

var client = &http.Client{Timeout: 30 * time.Second}

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

// Response shapes returned by basketd.
type (
	cartView struct {
		SessionID string           `json:"session_id"`
		Items     []model.CartItem `json:"items"`
	}

	transferView struct {
		Retailer string           `json:"retailer"`
		Result   reconcile.Result `json:"result"`
	}

	exportView = model.Export
)

// errorView is basketd's {"error": {...}} body.
type errorView struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// SEED FILES
// =============================================================================

// loadSeedItems reads items from a JSON or YAML file ("-" reads stdin).
// Both a bare list and an object with an "items" list are accepted.
func loadSeedItems(path string) ([]model.SeedItem, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return parseSeedItems(data, filepath.Ext(path))
}

func parseSeedItems(data []byte, ext string) ([]model.SeedItem, error) {
	unmarshal := yaml.Unmarshal
	if strings.EqualFold(ext, ".json") {
		unmarshal = json.Unmarshal
	}

	var items []model.SeedItem
	if err := unmarshal(data, &items); err != nil {
		var wrapped struct {
			Items []model.SeedItem `json:"items" yaml:"items"`
		}
		if err2 := unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parsing seed file: %w", err)
		}
		items = wrapped.Items
	}

	for i, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("seed item %d has no name", i+1)
		}
	}
	return items, nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// doRequest sends body as JSON and decodes the response into out. A
// non-empty session is sent as the Basket-Session header.
func doRequest(ctx context.Context, method, path, session string, body, out interface{}) error {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serverURL, "/")+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if session != "" {
		header, err := middleware.FormatSessionHeader(session)
		if err != nil {
			return fmt.Errorf("encoding session header: %w", err)
		}
		req.Header.Set(middleware.SessionHeader, header)
	}

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if !quiet && verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		var apiErr errorView
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("HTTP %d %s: %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printRequest(method, path string, body []byte) {
	if !verbose {
		return
	}
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

// printItems lists cart items with their position, dimming checked ones.
func printItems(items []model.CartItem) {
	for i, item := range items {
		mark, color := " ", ""
		if item.Checked {
			mark, color = "✓", colorGray
		}
		fmt.Printf("  %s[%s] %2d %s%s (%s)%s\n", color, mark, i, item.Name, colorGray, item.Quantity, colorReset)
	}
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}
