package txn

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingAuditSink struct{ err error }

func (s failingAuditSink) Append(ctx context.Context, entry AuditEntry) error { return s.err }

type failingIntegrationSink struct{ err error }

func (s failingIntegrationSink) Append(ctx context.Context, entry IntegrationEntry) error {
	return s.err
}

func TestMultiAuditSink_AppendsToAll(t *testing.T) {
	first := NewMemoryAuditSink()
	second := NewMemoryAuditSink()
	multi := NewMultiAuditSink(first, second)

	entry := AuditEntry{TransactionID: "TXN-1", Action: "ORDER_CREATED", Actor: "SYSTEM", At: time.Now()}
	if err := multi.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(first.Entries()) != 1 || len(second.Entries()) != 1 {
		t.Fatalf("expected entry in both sinks")
	}
}

func TestMultiAuditSink_ContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	healthy := NewMemoryAuditSink()
	multi := NewMultiAuditSink(failingAuditSink{err: boom}, healthy)

	err := multi.Append(context.Background(), AuditEntry{Action: "ORDER_CREATED"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(healthy.Entries()) != 1 {
		t.Fatalf("healthy sink must still receive the entry")
	}
}

func TestMultiIntegrationSink_ContinuesPastFailures(t *testing.T) {
	boom := errors.New("redis down")
	healthy := NewMemoryIntegrationSink()
	multi := NewMultiIntegrationSink(healthy, failingIntegrationSink{err: boom})

	err := multi.Append(context.Background(), IntegrationEntry{Service: ServicePayment, Status: IntegrationFailed})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(healthy.Entries()) != 1 {
		t.Fatalf("healthy sink must still receive the entry")
	}
}

func TestMemorySinks_RespectContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewMemoryAuditSink().Append(ctx, AuditEntry{}); err == nil {
		t.Fatalf("expected context error")
	}
	if err := NewMemoryIntegrationSink().Append(ctx, IntegrationEntry{}); err == nil {
		t.Fatalf("expected context error")
	}
}
