package txn

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for expected workflow outcomes. Callers distinguish them
// with errors.Is; the HTTP layer turns them into structured failure results.
var (
	// ErrValidation indicates the order request failed shape validation.
	ErrValidation = errors.New("invalid order data")

	// ErrStockUnavailable indicates the inventory service reported a shortfall.
	ErrStockUnavailable = errors.New("insufficient stock for requested items")

	// ErrNotFound indicates no transaction exists for the given id.
	ErrNotFound = errors.New("transaction not found")

	// ErrAlreadyProcessed indicates the transaction already reached SUCCESS.
	ErrAlreadyProcessed = errors.New("payment already processed for this transaction")

	// ErrPaymentNotInitialized indicates confirmation was attempted on a
	// transaction that never got a payment record during creation.
	ErrPaymentNotInitialized = errors.New("payment record was not created during transaction creation")

	// ErrPaymentRejected indicates the payment service answered with a
	// status other than confirmed/success.
	ErrPaymentRejected = errors.New("payment rejected")
)

// FailureKind classifies how an outbound call to a collaborator failed.
type FailureKind int

const (
	FailureUnavailable FailureKind = iota
	FailureTimeout
	FailureConnectionRefused
	FailureProtocol
	FailureRejected
	FailureAuthentication
)

func (k FailureKind) String() string {
	switch k {
	case FailureUnavailable:
		return "unavailable"
	case FailureTimeout:
		return "timeout"
	case FailureConnectionRefused:
		return "connection refused"
	case FailureProtocol:
		return "protocol error"
	case FailureRejected:
		return "rejected"
	case FailureAuthentication:
		return "authentication failed"
	default:
		return "unknown"
	}
}

// ServiceError wraps a failed collaborator call with the service name and
// failure classification. The classification exists for diagnostics and
// retry decisions; the cause chain stays reachable through Unwrap.
type ServiceError struct {
	Service Service
	Kind    FailureKind
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service %s: %v", strings.ToLower(string(e.Service)), e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying: only transport
// level failures qualify, never application rejections or auth failures.
func (e *ServiceError) Retryable() bool {
	switch e.Kind {
	case FailureUnavailable, FailureTimeout, FailureConnectionRefused:
		return true
	default:
		return false
	}
}

// IsAuthentication reports whether err carries an authentication or
// authorization failure from a collaborator. Such failures always surface
// to the caller and are never downgraded by fallback policies.
func IsAuthentication(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == FailureAuthentication
}
