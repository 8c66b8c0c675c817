package gateway

import (
	"context"
	"errors"

	"stockpay/internal/txn"
)

const inventoryLookupQuery = `
query GetInventory($id: ID!) {
	inventory(id: $id) {
		success
		item {
			id
			name
			unit
		}
	}
}`

// InventoryGateway calls the inventory service: REST for stock check and
// deduction, GraphQL for display lookups.
type InventoryGateway struct {
	caller
	baseURL string
	mode    txn.FallbackMode
}

// NewInventoryGateway constructs an inventory gateway recording attempts
// to sink.
func NewInventoryGateway(cfg Config, sink txn.IntegrationSink) *InventoryGateway {
	return &InventoryGateway{
		caller:  newCaller(txn.ServiceInventory, cfg, sink),
		baseURL: cfg.BaseURL,
		mode:    cfg.Mode,
	}
}

// CheckAvailability asks whether every requested item is in stock. In
// relaxed mode failures degrade to a permissive snapshot.
func (g *InventoryGateway) CheckAvailability(ctx context.Context, items []txn.OrderItem) (txn.StockCheck, error) {
	request := map[string]any{"items": items}

	var out struct {
		Available bool             `json:"available"`
		Stock     []txn.StockLevel `json:"stock"`
	}
	err := g.postJSON(ctx, g.baseURL+"/api/check-stock", request, &out)
	if err != nil {
		g.record(ctx, txn.IntegrationFailed, request, nil, err.Error())
		if g.mode == txn.Relaxed && !txn.IsAuthentication(err) {
			g.logf("stock check failed, using permissive snapshot: %v", err)
			return permissiveStockCheck(items), nil
		}
		return txn.StockCheck{}, err
	}

	g.record(ctx, txn.IntegrationSuccess, request, out, "")

	return txn.StockCheck{Available: out.Available, Stock: out.Stock}, nil
}

// Deduct removes the purchased quantities from stock.
func (g *InventoryGateway) Deduct(ctx context.Context, items []txn.OrderItem) (txn.StockUpdate, error) {
	request := map[string]any{"items": items, "operation": "DEDUCT"}

	var out struct {
		Stock []txn.StockChange `json:"stock"`
	}
	err := g.postJSON(ctx, g.baseURL+"/api/update-stock", request, &out)
	if err != nil {
		g.record(ctx, txn.IntegrationFailed, request, nil, err.Error())
		if g.mode == txn.Relaxed && !txn.IsAuthentication(err) {
			g.logf("stock deduction failed, using synthetic update: %v", err)
			return syntheticStockUpdate(items), nil
		}
		return txn.StockUpdate{}, err
	}

	g.record(ctx, txn.IntegrationSuccess, request, out, "")

	return txn.StockUpdate{Updated: true, Stock: out.Stock}, nil
}

// Lookup fetches display data for one product. Callers treat failures as
// soft and fall back to a synthetic name, so no relaxed-mode canned
// response is needed here.
func (g *InventoryGateway) Lookup(ctx context.Context, productID string) (txn.Product, error) {
	var out struct {
		Inventory struct {
			Success bool `json:"success"`
			Item    *struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				Unit string `json:"unit"`
			} `json:"item"`
		} `json:"inventory"`
	}
	err := g.postGraphQL(ctx, g.baseURL+"/graphql", inventoryLookupQuery, map[string]any{"id": productID}, &out)
	if err != nil {
		return txn.Product{}, err
	}
	if !out.Inventory.Success || out.Inventory.Item == nil {
		return txn.Product{}, g.fail(txn.FailureRejected, errors.New("product not found"))
	}
	return txn.Product{
		ID:   out.Inventory.Item.ID,
		Name: out.Inventory.Item.Name,
		Unit: out.Inventory.Item.Unit,
	}, nil
}

func permissiveStockCheck(items []txn.OrderItem) txn.StockCheck {
	stock := make([]txn.StockLevel, len(items))
	for i, item := range items {
		stock[i] = txn.StockLevel{ProductID: item.ProductID, Available: 100}
	}
	return txn.StockCheck{Available: true, Stock: stock}
}

func syntheticStockUpdate(items []txn.OrderItem) txn.StockUpdate {
	stock := make([]txn.StockChange, len(items))
	for i, item := range items {
		stock[i] = txn.StockChange{ProductID: item.ProductID, NewStock: 95 - item.Quantity}
	}
	return txn.StockUpdate{Updated: true, Stock: stock}
}
