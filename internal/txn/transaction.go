package txn

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state of a transaction's payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Service names a collaborator service in integration log entries.
type Service string

const (
	ServiceOrder     Service = "ORDER"
	ServicePayment   Service = "PAYMENT"
	ServiceInventory Service = "INVENTORY"
)

// OrderItem is one line of a purchase request.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderRequest is the inbound purchase request driving CreateTransaction.
type OrderRequest struct {
	Items           []OrderItem `json:"items"`
	TotalAmount     float64     `json:"total_amount,omitempty"`
	ExternalOrderID string      `json:"external_order_id,omitempty"`
	SourceSystem    string      `json:"source_system,omitempty"`
}

// ConfirmRequest drives ConfirmPayment.
type ConfirmRequest struct {
	TransactionID string `json:"transaction_id"`
	PaymentMethod string `json:"payment_method"`
}

// StockLevel is the inventory service's view of one product before deduction.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available_stock"`
	Reserved  int    `json:"reserved_stock"`
}

// StockChange is the inventory service's view of one product after deduction.
type StockChange struct {
	ProductID string `json:"product_id"`
	NewStock  int    `json:"new_stock"`
}

// StockCheck is the result of an availability query.
type StockCheck struct {
	Available bool         `json:"available"`
	Stock     []StockLevel `json:"stock"`
}

// StockUpdate is the result of a deduction call.
type StockUpdate struct {
	Updated bool          `json:"updated"`
	Stock   []StockChange `json:"stock"`
}

// EnrichedItem is an order item with display data resolved from inventory.
type EnrichedItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Unit      string  `json:"unit"`
}

// OrderCreateInput is the payload sent to the order service.
type OrderCreateInput struct {
	CustomerID      int
	CustomerName    string
	Items           []EnrichedItem
	Notes           string
	ShippingAddress string
}

// OrderCreated is the order service's answer to a create call.
type OrderCreated struct {
	OrderID   string
	Status    string
	CreatedAt time.Time
}

// OrderStatusUpdate is the order service's answer to a status advance.
type OrderStatusUpdate struct {
	Success bool
	OrderID string
	Status  string
}

// PaymentCreateInput is the payload sent to the payment service.
type PaymentCreateInput struct {
	OrderID      string
	CustomerID   int
	CustomerName string
	Amount       float64
	Method       string
	Notes        string
}

// Payment is the payment record created in the payment service.
type Payment struct {
	ID     string
	Status string
}

// PaymentConfirmation is the payment service's answer to a confirm call.
type PaymentConfirmation struct {
	PaymentID string    `json:"payment_id"`
	Status    string    `json:"status"`
	Date      time.Time `json:"date"`
}

// Product is the inventory service's display data for one product.
type Product struct {
	ID   string
	Name string
	Unit string
}

// ResponseSnapshot is the per-service response captured on a confirmed
// transaction, keyed by service instead of stored as an opaque blob.
type ResponseSnapshot struct {
	Payment *PaymentConfirmation `json:"payment,omitempty"`
	Stock   *StockUpdate         `json:"stock,omitempty"`
}

// Transaction is the durable record of one purchase attempt.
type Transaction struct {
	TransactionID      string            `json:"transaction_id"`
	ExternalOrderID    string            `json:"external_order_id"`
	OrderID            string            `json:"order_id"`
	PaymentID          string            `json:"payment_id,omitempty"`
	TotalCost          float64           `json:"total_cost"`
	PaymentStatus      PaymentStatus     `json:"payment_status"`
	PaymentMethod      string            `json:"payment_method,omitempty"`
	StockBefore        []StockLevel      `json:"stock_before,omitempty"`
	StockAfter         []StockChange     `json:"stock_after,omitempty"`
	SourceSystem       string            `json:"source_system,omitempty"`
	RequestPayload     json.RawMessage   `json:"request_payload"`
	ResponsePayload    *ResponseSnapshot `json:"response_payload,omitempty"`
	ErrorDetails       string            `json:"error_details,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	PaymentCompletedAt time.Time         `json:"payment_completed_at,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Result is the caller-facing outcome of a coordinator operation.
type Result struct {
	Success       bool          `json:"success"`
	TransactionID string        `json:"transaction_id"`
	OrderID       string        `json:"order_id,omitempty"`
	TotalCost     float64       `json:"total_cost,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentID     string        `json:"payment_id,omitempty"`
	Message       string        `json:"message"`
}

// AuditEntry is one row of the human-facing workflow history.
type AuditEntry struct {
	TransactionID string         `json:"transaction_id,omitempty"`
	Action        string         `json:"action"`
	Actor         string         `json:"actor"`
	Details       map[string]any `json:"details,omitempty"`
	At            time.Time      `json:"at"`
}

// IntegrationEntry is one row of the outbound-call attempt trail.
type IntegrationEntry struct {
	TransactionID string    `json:"transaction_id,omitempty"`
	Service       Service   `json:"service"`
	Status        string    `json:"status"`
	Request       any       `json:"request,omitempty"`
	Response      any       `json:"response,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Integration entry statuses.
const (
	IntegrationSuccess = "SUCCESS"
	IntegrationFailed  = "FAILED"
)

// NewTransactionID builds a business key of the form
// TXN-<unix millis>-<8 uppercase hex>, unique for the store lifetime.
func NewTransactionID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("TXN-%d-%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(id[:4])))
}
