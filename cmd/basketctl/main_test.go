package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basket-sync/internal/middleware"
	"basket-sync/internal/model"
)

func TestParseSeedItems(t *testing.T) {
	want := []model.SeedItem{
		{Name: "Tomates", Quantity: "500 g"},
		{Name: "Huile d'olive", Quantity: "1 bouteille"},
	}

	tests := []struct {
		name string
		ext  string
		data string
	}{
		{"yaml list", ".yaml", "- name: Tomates\n  quantity: 500 g\n- name: Huile d'olive\n  quantity: 1 bouteille\n"},
		{"yaml items key", ".yml", "items:\n  - name: Tomates\n    quantity: 500 g\n  - name: Huile d'olive\n    quantity: 1 bouteille\n"},
		{"json list", ".json", `[{"name":"Tomates","quantity":"500 g"},{"name":"Huile d'olive","quantity":"1 bouteille"}]`},
		{"json items key", ".JSON", `{"items":[{"name":"Tomates","quantity":"500 g"},{"name":"Huile d'olive","quantity":"1 bouteille"}]}`},
		{"stdin defaults to yaml", "", `[{"name":"Tomates","quantity":"500 g"},{"name":"Huile d'olive","quantity":"1 bouteille"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSeedItems([]byte(tt.data), tt.ext)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseSeedItemsErrors(t *testing.T) {
	_, err := parseSeedItems([]byte(`[{"quantity":"1"}]`), ".json")
	assert.ErrorContains(t, err, "has no name")

	_, err = parseSeedItems([]byte(`{not json`), ".json")
	assert.ErrorContains(t, err, "parsing seed file")
}

func TestDoRequestSendsSessionHeader(t *testing.T) {
	var gotHeader, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(middleware.SessionHeader)
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cartView{SessionID: "list", Items: []model.CartItem{{Name: "Lait", Quantity: "1 L"}}})
	}))
	defer srv.Close()

	serverURL, quiet = srv.URL+"/", true
	t.Cleanup(func() { serverURL, quiet = "", false })

	var resp cartView
	err := doRequest(context.Background(), "GET", "/cart", "list", nil, &resp)
	require.NoError(t, err)

	assert.Equal(t, "GET", gotMethod)
	id, err := middleware.ParseSessionHeader(gotHeader)
	require.NoError(t, err)
	assert.Equal(t, "list", id)
	assert.Equal(t, "Lait", resp.Items[0].Name)
}

func TestDoRequestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"code":"EMPTY_SOURCE","message":"source cart list has no items"}}`))
	}))
	defer srv.Close()

	serverURL, quiet = srv.URL, true
	t.Cleanup(func() { serverURL, quiet = "", false })

	err := doRequest(context.Background(), "POST", "/transfers", "", map[string]string{"source_session": "list"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "HTTP 422 EMPTY_SOURCE"), err.Error())
}
