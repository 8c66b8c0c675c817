package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"stockpay/internal/txn"
)

const createOrderMutation = `
mutation CreateOrder($input: CreateOrderInput!) {
	createOrder(input: $input) {
		success
		message
		order {
			id
			status
			createdAt
		}
	}
}`

const updateOrderStatusMutation = `
mutation UpdateOrderStatus($id: ID!, $status: OrderStatus!) {
	updateOrderStatus(id: $id, status: $status) {
		success
		message
		order {
			id
			status
		}
	}
}`

// OrderGateway calls the order service over GraphQL.
type OrderGateway struct {
	caller
	url  string
	mode txn.FallbackMode
	now  func() time.Time
}

// NewOrderGateway constructs an order gateway recording attempts to sink.
func NewOrderGateway(cfg Config, sink txn.IntegrationSink) *OrderGateway {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OrderGateway{
		caller: newCaller(txn.ServiceOrder, cfg, sink),
		url:    cfg.BaseURL + "/graphql",
		mode:   cfg.Mode,
		now:    now,
	}
}

// Create creates the order. In relaxed mode non-authentication failures
// degrade to a synthetic order so the workflow stays exercisable without a
// live order service; the failed attempt is still integration-logged.
func (g *OrderGateway) Create(ctx context.Context, in txn.OrderCreateInput) (txn.OrderCreated, error) {
	items := make([]map[string]any, len(in.Items))
	for i, item := range in.Items {
		ingredientID, _ := strconv.Atoi(item.ProductID)
		items[i] = map[string]any{
			"ingredientId": ingredientID,
			"name":         item.Name,
			"quantity":     item.Quantity,
			"price":        item.Price,
			"unit":         item.Unit,
		}
	}
	input := map[string]any{
		"customerId":      in.CustomerID,
		"customerName":    in.CustomerName,
		"items":           items,
		"notes":           in.Notes,
		"shippingAddress": in.ShippingAddress,
	}

	var out struct {
		CreateOrder struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
			Order   *struct {
				ID        string `json:"id"`
				Status    string `json:"status"`
				CreatedAt string `json:"createdAt"`
			} `json:"order"`
		} `json:"createOrder"`
	}
	err := g.postGraphQL(ctx, g.url, createOrderMutation, map[string]any{"input": input}, &out)
	if err == nil && (!out.CreateOrder.Success || out.CreateOrder.Order == nil) {
		err = g.fail(txn.FailureRejected, errors.New(messageOr(out.CreateOrder.Message, "failed to create order")))
	}
	if err != nil {
		g.record(ctx, txn.IntegrationFailed, input, nil, err.Error())
		if g.mode == txn.Relaxed && !txn.IsAuthentication(err) {
			g.logf("order create failed, using synthetic order: %v", err)
			return txn.OrderCreated{
				OrderID:   fmt.Sprintf("ORD-%d", g.now().UnixMilli()),
				Status:    "CREATED",
				CreatedAt: g.now(),
			}, nil
		}
		return txn.OrderCreated{}, err
	}

	g.record(ctx, txn.IntegrationSuccess, input, out.CreateOrder, "")

	createdAt, _ := time.Parse(time.RFC3339, out.CreateOrder.Order.CreatedAt)
	return txn.OrderCreated{
		OrderID:   out.CreateOrder.Order.ID,
		Status:    out.CreateOrder.Order.Status,
		CreatedAt: createdAt,
	}, nil
}

// UpdateStatus advances the order's status.
func (g *OrderGateway) UpdateStatus(ctx context.Context, orderID, status string) (txn.OrderStatusUpdate, error) {
	vars := map[string]any{"id": orderID, "status": status}

	var out struct {
		UpdateOrderStatus struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
			Order   *struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"order"`
		} `json:"updateOrderStatus"`
	}
	err := g.postGraphQL(ctx, g.url, updateOrderStatusMutation, vars, &out)
	if err == nil && (!out.UpdateOrderStatus.Success || out.UpdateOrderStatus.Order == nil) {
		err = g.fail(txn.FailureRejected, errors.New(messageOr(out.UpdateOrderStatus.Message, "failed to update order status")))
	}
	if err != nil {
		g.record(ctx, txn.IntegrationFailed, vars, nil, err.Error())
		if g.mode == txn.Relaxed && !txn.IsAuthentication(err) {
			g.logf("order status update failed, assuming applied: %v", err)
			return txn.OrderStatusUpdate{Success: true, OrderID: orderID, Status: status}, nil
		}
		return txn.OrderStatusUpdate{}, err
	}

	g.record(ctx, txn.IntegrationSuccess, vars, out.UpdateOrderStatus, "")

	return txn.OrderStatusUpdate{
		Success: true,
		OrderID: out.UpdateOrderStatus.Order.ID,
		Status:  out.UpdateOrderStatus.Order.Status,
	}, nil
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
