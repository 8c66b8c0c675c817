package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// OrderGateway wraps the order service call family.
type OrderGateway interface {
	Create(ctx context.Context, in OrderCreateInput) (OrderCreated, error)
	UpdateStatus(ctx context.Context, orderID, status string) (OrderStatusUpdate, error)
}

// PaymentGateway wraps the payment service call family.
type PaymentGateway interface {
	Create(ctx context.Context, in PaymentCreateInput) (Payment, error)
	Confirm(ctx context.Context, paymentID string) (PaymentConfirmation, error)
}

// InventoryGateway wraps the inventory service call family.
type InventoryGateway interface {
	CheckAvailability(ctx context.Context, items []OrderItem) (StockCheck, error)
	Deduct(ctx context.Context, items []OrderItem) (StockUpdate, error)
	Lookup(ctx context.Context, productID string) (Product, error)
}

// CoordinatorDeps wires a Coordinator. Policy, Logf, Now and NewID have
// working defaults; the gateways and the store are required.
type CoordinatorDeps struct {
	Orders      OrderGateway
	Payments    PaymentGateway
	Inventory   InventoryGateway
	Store       TransactionStore
	Audit       AuditSink
	Integration IntegrationSink
	Policy      StepPolicy
	Logf        func(format string, args ...any)
	Now         func() time.Time
	NewID       func(now time.Time) string
}

// Coordinator drives the purchase workflows across the order, payment and
// inventory services, recording every attempt in the transaction store.
type Coordinator struct {
	orders      OrderGateway
	payments    PaymentGateway
	inventory   InventoryGateway
	store       TransactionStore
	audit       AuditSink
	integration IntegrationSink
	policy      StepPolicy
	logf        func(format string, args ...any)
	now         func() time.Time
	newID       func(now time.Time) string
	locks       lockTable
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	c := &Coordinator{
		orders:      deps.Orders,
		payments:    deps.Payments,
		inventory:   deps.Inventory,
		store:       deps.Store,
		audit:       deps.Audit,
		integration: deps.Integration,
		policy:      deps.Policy,
		logf:        deps.Logf,
		now:         deps.Now,
		newID:       deps.NewID,
	}
	if c.policy == nil {
		c.policy = DefaultStepPolicy()
	}
	if c.logf == nil {
		c.logf = log.Printf
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = NewTransactionID
	}
	return c
}

// CreateTransaction validates the order request, checks stock, creates the
// order, best-effort creates a payment record and persists the transaction
// as PENDING. Validation failures produce no side effects at all; any later
// failure is integration-logged and re-raised unmodified.
func (c *Coordinator) CreateTransaction(ctx context.Context, req OrderRequest) (Result, error) {
	if err := validateOrderRequest(req); err != nil {
		return Result{}, err
	}

	now := c.now()
	txnID := c.newID(now)

	res, err := c.createTransaction(ctx, txnID, req, now)
	if err != nil {
		c.recordIntegration(ctx, IntegrationEntry{
			TransactionID: txnID,
			Service:       ServiceOrder,
			Status:        IntegrationFailed,
			Request:       req,
			Error:         err.Error(),
			At:            c.now(),
		})
		return Result{}, err
	}
	return res, nil
}

func (c *Coordinator) createTransaction(ctx context.Context, txnID string, req OrderRequest, now time.Time) (Result, error) {
	stockCheck, err := c.inventory.CheckAvailability(ctx, req.Items)
	if err != nil {
		return Result{}, err
	}
	if !stockCheck.Available {
		return Result{}, ErrStockUnavailable
	}

	customerName := customerNameFor(req.SourceSystem)
	externalOrderID := req.ExternalOrderID
	if externalOrderID == "" {
		externalOrderID = fmt.Sprintf("EXT-%d", now.UnixMilli())
	}

	orderResp, err := c.orders.Create(ctx, OrderCreateInput{
		CustomerName:    customerName,
		Items:           c.enrichItems(ctx, req.Items),
		Notes:           "External Order ID: " + externalOrderID,
		ShippingAddress: "Online Integration",
	})
	if err != nil {
		return Result{}, err
	}

	totalCost := req.TotalAmount
	if totalCost == 0 {
		for _, item := range req.Items {
			totalCost += item.Price * float64(item.Quantity)
		}
	}

	var paymentID string
	payment, err := c.payments.Create(ctx, PaymentCreateInput{
		OrderID:      orderResp.OrderID,
		CustomerName: customerName,
		Amount:       totalCost,
		Method:       "transfer",
		Notes:        fmt.Sprintf("Transaction ID: %s, External Order: %s", txnID, externalOrderID),
	})
	switch {
	case err == nil:
		paymentID = payment.ID
	case c.policy.ActionFor(StepCreatePayment) == Propagate:
		return Result{}, err
	default:
		// The payment record can still be created later; the transaction
		// proceeds with a null payment id.
		c.logf("create payment for %s failed, continuing without payment record: %v", txnID, err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot order request: %w", err)
	}

	sourceSystem := req.SourceSystem
	if sourceSystem == "" {
		sourceSystem = "EXTERNAL_SYSTEM"
	}

	record := &Transaction{
		TransactionID:   txnID,
		ExternalOrderID: externalOrderID,
		OrderID:         orderResp.OrderID,
		PaymentID:       paymentID,
		TotalCost:       totalCost,
		PaymentStatus:   PaymentPending,
		StockBefore:     stockCheck.Stock,
		SourceSystem:    sourceSystem,
		RequestPayload:  payload,
		CreatedAt:       now,
	}
	if err := c.store.Create(ctx, record); err != nil {
		return Result{}, fmt.Errorf("persist transaction %s: %w", txnID, err)
	}

	c.recordAudit(ctx, AuditEntry{
		TransactionID: txnID,
		Action:        "ORDER_CREATED",
		Actor:         "SYSTEM",
		Details: map[string]any{
			"order_id":   orderResp.OrderID,
			"payment_id": paymentID,
			"total_cost": totalCost,
		},
		At: c.now(),
	})

	return Result{
		Success:       true,
		TransactionID: txnID,
		OrderID:       orderResp.OrderID,
		TotalCost:     totalCost,
		PaymentStatus: PaymentPending,
		PaymentID:     paymentID,
		Message:       "Order created successfully. Please proceed to payment.",
	}, nil
}

// ConfirmPayment advances a PENDING (or FAILED, which stays retryable)
// transaction to SUCCESS: confirm the payment, deduct stock based on the
// stored request payload, persist the outcome, then best-effort advance the
// order status. A per-transaction lock plus the store's conditional status
// transition keep concurrent confirmations from deducting stock twice.
func (c *Coordinator) ConfirmPayment(ctx context.Context, req ConfirmRequest) (Result, error) {
	if req.TransactionID == "" {
		return Result{}, fmt.Errorf("%w: transaction_id is required", ErrValidation)
	}
	if req.PaymentMethod == "" {
		return Result{}, fmt.Errorf("%w: payment_method is required", ErrValidation)
	}

	unlock := c.locks.acquire(req.TransactionID)
	defer unlock()

	record, err := c.store.FindByTransactionID(ctx, req.TransactionID)
	if err != nil {
		return Result{}, err
	}
	if record.PaymentStatus == PaymentSuccess {
		return Result{}, ErrAlreadyProcessed
	}
	if record.PaymentID == "" {
		return Result{}, ErrPaymentNotInitialized
	}

	res, err := c.confirmPayment(ctx, record, req)
	if err != nil {
		if markErr := c.store.MarkFailed(ctx, record.TransactionID, err.Error()); markErr != nil {
			c.logf("mark transaction %s failed: %v", record.TransactionID, markErr)
		}
		return Result{}, err
	}
	return res, nil
}

func (c *Coordinator) confirmPayment(ctx context.Context, record *Transaction, req ConfirmRequest) (Result, error) {
	conf, err := c.payments.Confirm(ctx, record.PaymentID)
	if err != nil {
		return Result{}, err
	}
	switch strings.ToLower(conf.Status) {
	case "confirmed", "success":
	default:
		return Result{}, fmt.Errorf("%w: payment service returned status %q", ErrPaymentRejected, conf.Status)
	}

	// The stored request payload, not the confirmation input, is
	// authoritative for what to deduct.
	var stored OrderRequest
	if err := json.Unmarshal(record.RequestPayload, &stored); err != nil {
		return Result{}, fmt.Errorf("parse stored request payload for %s: %w", record.TransactionID, err)
	}

	stockUpdate, err := c.inventory.Deduct(ctx, stored.Items)
	if err != nil {
		return Result{}, err
	}

	paymentID := conf.PaymentID
	if paymentID == "" {
		paymentID = record.PaymentID
	}
	if err := c.store.MarkSucceeded(ctx, record.TransactionID, SuccessUpdate{
		PaymentMethod: req.PaymentMethod,
		PaymentID:     paymentID,
		CompletedAt:   c.now(),
		StockAfter:    stockUpdate.Stock,
		Response:      &ResponseSnapshot{Payment: &conf, Stock: &stockUpdate},
	}); err != nil {
		return Result{}, err
	}

	c.advanceOrderStatus(ctx, record.TransactionID, record.OrderID)

	c.recordAudit(ctx, AuditEntry{
		TransactionID: record.TransactionID,
		Action:        "PAYMENT_CONFIRMED",
		Actor:         "SYSTEM",
		Details: map[string]any{
			"payment_id":     paymentID,
			"payment_method": req.PaymentMethod,
		},
		At: c.now(),
	})

	return Result{
		Success:       true,
		TransactionID: record.TransactionID,
		PaymentStatus: PaymentSuccess,
		PaymentID:     paymentID,
		Message:       "Payment confirmed and stock updated successfully",
	}, nil
}

// advanceOrderStatus moves the order to delivered after a confirmed
// payment. Mock and external order ids are opaque strings and skipped; the
// transaction is already SUCCESS, so failures here never surface.
func (c *Coordinator) advanceOrderStatus(ctx context.Context, txnID, orderID string) {
	if !isNumericID(orderID) {
		c.logf("order id %q is not numeric, skipping status update for %s", orderID, txnID)
		return
	}
	if _, err := c.orders.UpdateStatus(ctx, orderID, "delivered"); err != nil {
		if c.policy.ActionFor(StepAdvanceOrder) == LogAndContinue {
			c.logf("update order %s status after confirming %s: %v", orderID, txnID, err)
		}
	}
}

// enrichItems resolves a display name and unit for each item from the
// inventory service, falling back to a synthetic name when the lookup
// fails. Lookups run concurrently; failures never abort order creation.
func (c *Coordinator) enrichItems(ctx context.Context, items []OrderItem) []EnrichedItem {
	enriched := make([]EnrichedItem, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item OrderItem) {
			defer wg.Done()
			enriched[i] = c.enrichItem(ctx, item)
		}(i, item)
	}
	wg.Wait()
	return enriched
}

func (c *Coordinator) enrichItem(ctx context.Context, item OrderItem) EnrichedItem {
	out := EnrichedItem{
		ProductID: item.ProductID,
		Name:      "Product " + item.ProductID,
		Quantity:  item.Quantity,
		Price:     item.Price,
		Unit:      "pcs",
	}
	product, err := c.inventory.Lookup(ctx, item.ProductID)
	if err != nil {
		c.logf("inventory lookup for product %s failed: %v", item.ProductID, err)
		return out
	}
	if product.Name != "" {
		out.Name = product.Name
	}
	if product.Unit != "" {
		out.Unit = product.Unit
	}
	return out
}

func (c *Coordinator) recordAudit(ctx context.Context, entry AuditEntry) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Append(ctx, entry); err != nil {
		c.logf("append audit entry %s for %s: %v", entry.Action, entry.TransactionID, err)
	}
}

func (c *Coordinator) recordIntegration(ctx context.Context, entry IntegrationEntry) {
	if c.integration == nil {
		return
	}
	if err := c.integration.Append(ctx, entry); err != nil {
		c.logf("append integration entry for %s: %v", entry.Service, err)
	}
}

func validateOrderRequest(req OrderRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for i, item := range req.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: item at index %d missing product_id", ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item at index %d has invalid quantity", ErrValidation, i)
		}
		if item.Price <= 0 {
			return fmt.Errorf("%w: item at index %d has invalid price", ErrValidation, i)
		}
	}
	return nil
}

func customerNameFor(sourceSystem string) string {
	switch sourceSystem {
	case "TOKO_KUE_GATEWAY":
		return "Toko Kue Integration"
	case "":
		return "External System"
	default:
		return sourceSystem
	}
}

func isNumericID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// lockTable hands out one mutex per transaction id, dropping entries once
// the last holder releases.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (t *lockTable) acquire(id string) (release func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*lockEntry)
	}
	entry, ok := t.locks[id]
	if !ok {
		entry = &lockEntry{}
		t.locks[id] = entry
	}
	entry.refs++
	t.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		t.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
