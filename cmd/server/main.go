package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockpay/cmd/server/config"
	"stockpay/internal/observability"
	"stockpay/internal/realtime"
	"stockpay/internal/txn"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	store, audit, integration, cleanupStores, err := buildPersistence(ctx, log.Printf)
	if err != nil {
		return err
	}
	defer cleanupStores()

	mirror, cleanupRedis, err := buildRedisMirror(ctx, log.Printf)
	if err != nil {
		return err
	}
	defer cleanupRedis()

	hub := realtime.NewHub(log.Printf)
	go hub.Run()

	metrics := observability.NewMetrics()
	auditSink := countingAuditSink{
		sink:    txn.NewMultiAuditSink(audit, realtime.NewAuditFeed(hub)),
		metrics: metrics,
	}
	integrationSinks := []txn.IntegrationSink{integration}
	if mirror != nil {
		integrationSinks = append(integrationSinks, mirror)
	}
	integrationSink := countingIntegrationSink{
		sink:    txn.NewMultiIntegrationSink(integrationSinks...),
		metrics: metrics,
	}

	orders, payments, inventory, err := buildGateways(integrationSink, log.Printf)
	if err != nil {
		return err
	}

	coordinator := txn.NewCoordinator(txn.CoordinatorDeps{
		Orders:      orders,
		Payments:    payments,
		Inventory:   inventory,
		Store:       store,
		Audit:       auditSink,
		Integration: integrationSink,
		Logf:        log.Printf,
	})

	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}

	var limiter rateLimiter
	if httpCfg.RateLimitInterval != nil && httpCfg.RateLimitBurst != nil {
		limiter = newAPIRateLimiter(*httpCfg.RateLimitInterval, *httpCfg.RateLimitBurst, metrics.AddRateLimitWait)
	}

	api := newAPIServer(coordinator, store, log.Printf)

	mux := http.NewServeMux()
	mux.Handle("POST /api/transactions", instrument("transactions.Create", limiter, metrics, http.HandlerFunc(api.handleCreateTransaction)))
	mux.Handle("POST /api/transactions/confirm", instrument("transactions.Confirm", limiter, metrics, http.HandlerFunc(api.handleConfirmPayment)))
	mux.Handle("GET /api/transactions", instrument("transactions.List", limiter, metrics, http.HandlerFunc(api.handleListTransactions)))
	mux.Handle("GET /api/transactions/statistics", instrument("transactions.Statistics", limiter, metrics, http.HandlerFunc(api.handleStatistics)))
	mux.Handle("GET /api/transactions/{id}", instrument("transactions.Get", limiter, metrics, http.HandlerFunc(api.handleGetTransaction)))
	mux.Handle("GET /healthz", http.HandlerFunc(api.handleHealth))
	mux.Handle("GET /ws/audit", hub)
	mux.Handle("GET /metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", httpCfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// countingAuditSink feeds sink failures into the metrics counter before
// the coordinator swallows them.
type countingAuditSink struct {
	sink    txn.AuditSink
	metrics *observability.Metrics
}

func (s countingAuditSink) Append(ctx context.Context, entry txn.AuditEntry) error {
	err := s.sink.Append(ctx, entry)
	if err != nil {
		s.metrics.AddSinkFailure()
	}
	return err
}

type countingIntegrationSink struct {
	sink    txn.IntegrationSink
	metrics *observability.Metrics
}

func (s countingIntegrationSink) Append(ctx context.Context, entry txn.IntegrationEntry) error {
	err := s.sink.Append(ctx, entry)
	if err != nil {
		s.metrics.AddSinkFailure()
	}
	return err
}
