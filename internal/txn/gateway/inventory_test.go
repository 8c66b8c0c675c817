package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stockpay/internal/txn"
)

func TestInventoryGateway_CheckAvailability(t *testing.T) {
	var path string
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"available": true, "stock": [{"product_id": "1", "available_stock": 100, "reserved_stock": 0}]}`))
	}))
	t.Cleanup(server.Close)

	sink := txn.NewMemoryIntegrationSink()
	gw := NewInventoryGateway(Config{BaseURL: server.URL, Logf: t.Logf}, sink)

	check, err := gw.CheckAvailability(context.Background(), []txn.OrderItem{{ProductID: "1", Quantity: 2, Price: 15000}})
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if path != "/api/check-stock" {
		t.Fatalf("unexpected path: %s", path)
	}
	if !check.Available || len(check.Stock) != 1 || check.Stock[0].Available != 100 {
		t.Fatalf("unexpected check: %+v", check)
	}
	items := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("unexpected request items: %+v", body)
	}
	if entries := sink.Entries(); len(entries) != 1 || entries[0].Service != txn.ServiceInventory {
		t.Fatalf("unexpected integration entries: %+v", entries)
	}
}

func TestInventoryGateway_CheckAvailability_RelaxedFallback(t *testing.T) {
	server := statusServer(t, 500)

	gw := NewInventoryGateway(Config{BaseURL: server.URL, Mode: txn.Relaxed, Logf: t.Logf}, nil)

	check, err := gw.CheckAvailability(context.Background(), []txn.OrderItem{{ProductID: "1", Quantity: 2}})
	if err != nil {
		t.Fatalf("relaxed mode must degrade: %v", err)
	}
	if !check.Available || len(check.Stock) != 1 || check.Stock[0].Available != 100 {
		t.Fatalf("unexpected permissive snapshot: %+v", check)
	}
}

func TestInventoryGateway_Deduct(t *testing.T) {
	var path string
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"stock": [{"product_id": "1", "new_stock": 93}]}`))
	}))
	t.Cleanup(server.Close)

	gw := NewInventoryGateway(Config{BaseURL: server.URL, Logf: t.Logf}, nil)

	update, err := gw.Deduct(context.Background(), []txn.OrderItem{{ProductID: "1", Quantity: 2}})
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if path != "/api/update-stock" {
		t.Fatalf("unexpected path: %s", path)
	}
	if body["operation"] != "DEDUCT" {
		t.Fatalf("expected DEDUCT operation, got %v", body["operation"])
	}
	if !update.Updated || len(update.Stock) != 1 || update.Stock[0].NewStock != 93 {
		t.Fatalf("unexpected update: %+v", update)
	}
}

func TestInventoryGateway_Deduct_RelaxedFallback(t *testing.T) {
	server := statusServer(t, 503)

	gw := NewInventoryGateway(Config{BaseURL: server.URL, Mode: txn.Relaxed, Logf: t.Logf}, nil)

	update, err := gw.Deduct(context.Background(), []txn.OrderItem{{ProductID: "1", Quantity: 5}})
	if err != nil {
		t.Fatalf("relaxed mode must degrade: %v", err)
	}
	if !update.Updated || update.Stock[0].NewStock != 90 {
		t.Fatalf("unexpected synthetic update: %+v", update)
	}
}

func TestInventoryGateway_Deduct_StrictPropagates(t *testing.T) {
	server := statusServer(t, 503)

	gw := NewInventoryGateway(Config{BaseURL: server.URL, Logf: t.Logf}, nil)

	_, err := gw.Deduct(context.Background(), []txn.OrderItem{{ProductID: "1", Quantity: 2}})
	if got := failureKind(t, err); got != txn.FailureUnavailable {
		t.Fatalf("expected unavailable failure, got %s", got)
	}
}

func TestInventoryGateway_Lookup(t *testing.T) {
	server := graphqlServer(t, `{
		"inventory": {
			"success": true,
			"item": {"id": "1", "name": "Flour", "unit": "kg"}
		}
	}`, nil)

	gw := NewInventoryGateway(Config{BaseURL: server.URL, Logf: t.Logf}, nil)

	product, err := gw.Lookup(context.Background(), "1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if product.Name != "Flour" || product.Unit != "kg" {
		t.Fatalf("unexpected product: %+v", product)
	}
}

func TestInventoryGateway_Lookup_NotFound(t *testing.T) {
	server := graphqlServer(t, `{"inventory": {"success": false, "item": null}}`, nil)

	gw := NewInventoryGateway(Config{BaseURL: server.URL, Logf: t.Logf}, nil)

	_, err := gw.Lookup(context.Background(), "999")
	if got := failureKind(t, err); got != txn.FailureRejected {
		t.Fatalf("expected rejection, got %s", got)
	}
}
