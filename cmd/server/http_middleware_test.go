package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockpay/internal/observability"
)

func TestAPIRateLimiter_Waits(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var waits []time.Duration

	limiter := newAPIRateLimiter(100*time.Millisecond, 1, nil)
	limiter.now = func() time.Time { return now }
	limiter.last = now
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		now = now.Add(d)
		return nil
	}

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waits) != 1 || waits[0] != 100*time.Millisecond {
		t.Fatalf("expected one wait of 100ms, got %v", waits)
	}
}

func TestAPIRateLimiter_DisabledWhenZero(t *testing.T) {
	limiter := newAPIRateLimiter(0, 0, nil)
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

type stubWaiter struct {
	calls int
	err   error
}

func (s *stubWaiter) Wait(ctx context.Context) error {
	s.calls++
	return s.err
}

func TestInstrument_CallsLimiterAndMetrics(t *testing.T) {
	limiter := &stubWaiter{}
	metrics := observability.NewMetrics()

	handler := instrument("transactions.List", limiter, metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))

	if limiter.calls != 1 {
		t.Fatalf("expected limiter to be called once, got %d", limiter.calls)
	}
	snap := metrics.Snapshot()
	if snap.Operations["transactions.List"].Count != 1 {
		t.Fatalf("expected one tracked call, got %+v", snap.Operations)
	}
	if snap.TotalErrors != 0 {
		t.Fatalf("expected no errors, got %d", snap.TotalErrors)
	}
}

func TestInstrument_RejectedByLimiter(t *testing.T) {
	limiter := &stubWaiter{err: context.DeadlineExceeded}
	metrics := observability.NewMetrics()

	handler := instrument("transactions.Create", limiter, metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/transactions", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if metrics.Snapshot().TotalErrors != 1 {
		t.Fatalf("expected one tracked error")
	}
}

func TestInstrument_CountsServerErrors(t *testing.T) {
	metrics := observability.NewMetrics()

	handler := instrument("transactions.Get", nil, metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/transactions/TXN-1", nil))

	if metrics.Snapshot().TotalErrors != 1 {
		t.Fatalf("expected one tracked error")
	}
}
