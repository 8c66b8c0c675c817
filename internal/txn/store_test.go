package txn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func seedTransaction(t *testing.T, store *InMemoryTransactionStore, id string, createdAt time.Time) {
	t.Helper()
	err := store.Create(context.Background(), &Transaction{
		TransactionID:   id,
		ExternalOrderID: "EXT-" + id,
		OrderID:         "41",
		PaymentID:       "PAY-" + id,
		TotalCost:       30000,
		PaymentStatus:   PaymentPending,
		RequestPayload:  json.RawMessage(`{}`),
		CreatedAt:       createdAt,
	})
	if err != nil {
		t.Fatalf("Create %s: %v", id, err)
	}
}

func TestInMemoryStore_CreateAndFind(t *testing.T) {
	store := NewInMemoryTransactionStore()
	seedTransaction(t, store, "TXN-1", time.Now())

	record, err := store.FindByTransactionID(context.Background(), "TXN-1")
	if err != nil {
		t.Fatalf("FindByTransactionID: %v", err)
	}
	if record.PaymentStatus != PaymentPending {
		t.Fatalf("unexpected status: %s", record.PaymentStatus)
	}

	// Mutating the returned copy must not touch the stored record.
	record.PaymentStatus = PaymentFailed
	again, _ := store.FindByTransactionID(context.Background(), "TXN-1")
	if again.PaymentStatus != PaymentPending {
		t.Fatalf("store must hand out copies")
	}
}

func TestInMemoryStore_DuplicateCreate(t *testing.T) {
	store := NewInMemoryTransactionStore()
	seedTransaction(t, store, "TXN-1", time.Now())

	err := store.Create(context.Background(), &Transaction{TransactionID: "TXN-1"})
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestInMemoryStore_FindMissing(t *testing.T) {
	store := NewInMemoryTransactionStore()
	if _, err := store.FindByTransactionID(context.Background(), "TXN-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_MarkSucceeded(t *testing.T) {
	store := NewInMemoryTransactionStore()
	seedTransaction(t, store, "TXN-1", time.Now())

	completed := time.Now()
	err := store.MarkSucceeded(context.Background(), "TXN-1", SuccessUpdate{
		PaymentMethod: "transfer",
		PaymentID:     "PAY-new",
		CompletedAt:   completed,
		StockAfter:    []StockChange{{ProductID: "1", NewStock: 93}},
		Response:      &ResponseSnapshot{},
	})
	if err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	record, _ := store.FindByTransactionID(context.Background(), "TXN-1")
	if record.PaymentStatus != PaymentSuccess || record.PaymentID != "PAY-new" || record.PaymentMethod != "transfer" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !record.PaymentCompletedAt.Equal(completed) {
		t.Fatalf("unexpected completion time: %v", record.PaymentCompletedAt)
	}

	// A second transition must observe the terminal state.
	if err := store.MarkSucceeded(context.Background(), "TXN-1", SuccessUpdate{}); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if err := store.MarkFailed(context.Background(), "TXN-1", "late failure"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed from MarkFailed, got %v", err)
	}
}

func TestInMemoryStore_MarkSucceeded_KeepsPaymentID(t *testing.T) {
	store := NewInMemoryTransactionStore()
	seedTransaction(t, store, "TXN-1", time.Now())

	if err := store.MarkSucceeded(context.Background(), "TXN-1", SuccessUpdate{PaymentMethod: "transfer"}); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	record, _ := store.FindByTransactionID(context.Background(), "TXN-1")
	if record.PaymentID != "PAY-TXN-1" {
		t.Fatalf("empty update must keep the existing payment id, got %q", record.PaymentID)
	}
}

func TestInMemoryStore_MarkFailedThenSucceed(t *testing.T) {
	store := NewInMemoryTransactionStore()
	seedTransaction(t, store, "TXN-1", time.Now())

	if err := store.MarkFailed(context.Background(), "TXN-1", "payment rejected"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	record, _ := store.FindByTransactionID(context.Background(), "TXN-1")
	if record.PaymentStatus != PaymentFailed || record.ErrorDetails != "payment rejected" {
		t.Fatalf("unexpected record: %+v", record)
	}

	// FAILED stays retryable.
	if err := store.MarkSucceeded(context.Background(), "TXN-1", SuccessUpdate{PaymentMethod: "transfer"}); err != nil {
		t.Fatalf("MarkSucceeded after failure: %v", err)
	}
	record, _ = store.FindByTransactionID(context.Background(), "TXN-1")
	if record.PaymentStatus != PaymentSuccess || record.ErrorDetails != "" {
		t.Fatalf("expected clean SUCCESS record, got %+v", record)
	}
}

func TestInMemoryStore_MarkMissing(t *testing.T) {
	store := NewInMemoryTransactionStore()
	if err := store.MarkSucceeded(context.Background(), "TXN-missing", SuccessUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.MarkFailed(context.Background(), "TXN-missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_List(t *testing.T) {
	store := NewInMemoryTransactionStore()
	base := time.Now()
	seedTransaction(t, store, "TXN-1", base.Add(-2*time.Minute))
	seedTransaction(t, store, "TXN-2", base.Add(-time.Minute))
	seedTransaction(t, store, "TXN-3", base)

	records, err := store.List(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records[0].TransactionID != "TXN-3" || records[1].TransactionID != "TXN-2" {
		t.Fatalf("expected newest first, got %+v", records)
	}

	records, _ = store.List(context.Background(), 2, 2)
	if len(records) != 1 || records[0].TransactionID != "TXN-1" {
		t.Fatalf("unexpected offset page: %+v", records)
	}

	records, _ = store.List(context.Background(), 0, 5)
	if records != nil {
		t.Fatalf("offset past the end must return nil, got %+v", records)
	}
}

func TestInMemoryStore_Statistics(t *testing.T) {
	store := NewInMemoryTransactionStore()
	seedTransaction(t, store, "TXN-1", time.Now())
	seedTransaction(t, store, "TXN-2", time.Now())
	if err := store.MarkSucceeded(context.Background(), "TXN-2", SuccessUpdate{PaymentMethod: "transfer"}); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	stats, err := store.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected total 2, got %d", stats.Total)
	}
	if stats.ByStatus[PaymentPending].Count != 1 || stats.ByStatus[PaymentSuccess].Count != 1 {
		t.Fatalf("unexpected breakdown: %+v", stats.ByStatus)
	}
	if stats.ByStatus[PaymentSuccess].TotalCost != 30000 {
		t.Fatalf("unexpected success total: %v", stats.ByStatus[PaymentSuccess].TotalCost)
	}
}
