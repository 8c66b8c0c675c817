package txndb

import (
	"context"
	"testing"
	"time"

	"stockpay/internal/txn"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestAuditLog_Append(t *testing.T) {
	db, mock, cleanup := newTxnMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("TXN-1", "ORDER_CREATED", "SYSTEM", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	sink := NewPostgresAuditLog(db)
	err := sink.Append(context.Background(), txn.AuditEntry{
		TransactionID: "TXN-1",
		Action:        "ORDER_CREATED",
		Actor:         "SYSTEM",
		Details:       map[string]any{"order_id": "ORD-1"},
		At:            time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestAuditLog_Append_NoDetails(t *testing.T) {
	db, mock, cleanup := newTxnMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("TXN-1", "PAYMENT_CONFIRMED", "SYSTEM", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	sink := NewPostgresAuditLog(db)
	err := sink.Append(context.Background(), txn.AuditEntry{
		TransactionID: "TXN-1",
		Action:        "PAYMENT_CONFIRMED",
		Actor:         "SYSTEM",
		At:            time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestAuditLog_WithSchema(t *testing.T) {
	db, mock, cleanup := newTxnMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	sink, err := NewPostgresAuditLogWithSchema(context.Background(), db)
	if err != nil {
		t.Fatalf("WithSchema: %v", err)
	}
	if sink == nil {
		t.Fatalf("expected sink")
	}
}

func TestIntegrationLog_Append(t *testing.T) {
	db, mock, cleanup := newTxnMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO integration_logs").
		WithArgs("TXN-1", "PAYMENT", "FAILED", sqlmock.AnyArg(), nil, "request failed with status code 503", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	sink := NewPostgresIntegrationLog(db)
	err := sink.Append(context.Background(), txn.IntegrationEntry{
		TransactionID: "TXN-1",
		Service:       txn.ServicePayment,
		Status:        txn.IntegrationFailed,
		Request:       map[string]any{"id": "PAY-1"},
		Error:         "request failed with status code 503",
		At:            time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestIntegrationLog_WithSchema(t *testing.T) {
	db, mock, cleanup := newTxnMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS integration_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	sink, err := NewPostgresIntegrationLogWithSchema(context.Background(), db)
	if err != nil {
		t.Fatalf("WithSchema: %v", err)
	}
	if sink == nil {
		t.Fatalf("expected sink")
	}
}
