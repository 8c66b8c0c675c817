package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"stockpay/cmd/server/config"
	txndb "stockpay/internal/db/txn"
	"stockpay/internal/txn"
	"stockpay/internal/txn/gateway"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildPersistence wires the transaction store and the durable audit and
// integration sinks. With no DATABASE_URL, or when Postgres setup fails,
// everything falls back to in-memory so the service stays runnable locally.
func buildPersistence(ctx context.Context, logf func(format string, args ...any)) (txn.TransactionStore, txn.AuditSink, txn.IntegrationSink, func(), error) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var store txn.TransactionStore = txn.NewInMemoryTransactionStore()
	var audit txn.AuditSink = txn.NewMemoryAuditSink()
	var integration txn.IntegrationSink = txn.NewMemoryIntegrationSink()

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		logf("DATABASE_URL not set, using in-memory transaction store")
		return store, audit, integration, cleanup, nil
	}

	sqlDB, err := openDB("pgx", dsn)
	if err != nil {
		logf("postgres open failed, falling back to in-memory store: %v", err)
		return store, audit, integration, cleanup, nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pgStore, err := txndb.NewPostgresTransactionStoreWithSchema(setupCtx, sqlDB)
	if err != nil {
		logf("postgres init failed, falling back to in-memory store: %v", err)
		_ = sqlDB.Close()
		return store, audit, integration, cleanup, nil
	}
	pgAudit, err := txndb.NewPostgresAuditLogWithSchema(setupCtx, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, nil, nil, err
	}
	pgIntegration, err := txndb.NewPostgresIntegrationLogWithSchema(setupCtx, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, nil, nil, err
	}

	logf("postgres transaction store enabled")
	cleanup = func() {
		if err := sqlDB.Close(); err != nil {
			logf("close postgres: %v", err)
		}
	}
	return pgStore, pgAudit, pgIntegration, cleanup, nil
}

// buildRedisMirror wires the optional Redis integration-status mirror.
// Returns a nil sink when REDIS_URL is not configured.
func buildRedisMirror(ctx context.Context, logf func(format string, args ...any)) (txn.IntegrationSink, func(), error) {
	if logf == nil {
		logf = log.Printf
	}
	if strings.TrimSpace(os.Getenv("REDIS_URL")) == "" {
		return nil, func() {}, nil
	}

	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	mirror := txn.NewRedisIntegrationMirror(redisClientAdapter{client: client}, cfg.Stream, cfg.StatusTTL, cfg.StreamMaxLen)
	cleanup := func() {
		if err := client.Close(); err != nil {
			logf("close redis: %v", err)
		}
	}
	logf("redis integration mirror enabled")
	return mirror, cleanup, nil
}

// buildGateways wires the three service gateways, wrapping payment and
// inventory with retry and circuit breaker controls. Order creation is not
// retried: a timed-out create may still have landed, and a duplicate order
// is worse than a surfaced failure.
func buildGateways(sink txn.IntegrationSink, logf func(format string, args ...any)) (txn.OrderGateway, txn.PaymentGateway, txn.InventoryGateway, error) {
	cfg, err := config.LoadGateways()
	if err != nil {
		return nil, nil, nil, err
	}
	mode, err := txn.ParseFallbackMode(cfg.FallbackMode)
	if err != nil {
		return nil, nil, nil, err
	}
	relCfg, err := config.LoadReliability()
	if err != nil {
		return nil, nil, nil, err
	}

	common := gateway.Config{Mode: mode, Logf: logf}
	if cfg.CallTimeout != nil {
		common.Timeout = *cfg.CallTimeout
	}

	orderCfg := common
	orderCfg.BaseURL = cfg.OrderURL
	paymentCfg := common
	paymentCfg.BaseURL = cfg.PaymentURL
	inventoryCfg := common
	inventoryCfg.BaseURL = cfg.InventoryURL

	orders := gateway.NewOrderGateway(orderCfg, sink)
	payments := gateway.NewPaymentGateway(paymentCfg, sink)
	inventory := gateway.NewInventoryGateway(inventoryCfg, sink)

	retry := txn.RetryPolicy{MaxAttempts: 1}
	if relCfg.RetryAttempts != nil {
		retry.MaxAttempts = *relCfg.RetryAttempts
	}
	if relCfg.RetryBaseDelay != nil {
		retry.BaseDelay = *relCfg.RetryBaseDelay
	}
	if relCfg.RetryMaxDelay != nil {
		retry.MaxDelay = *relCfg.RetryMaxDelay
	}

	var paymentBreaker, inventoryBreaker *txn.CircuitBreaker
	if relCfg.BreakerFailures != nil && *relCfg.BreakerFailures > 0 {
		breakerCfg := txn.CircuitBreakerConfig{MaxFailures: *relCfg.BreakerFailures}
		if relCfg.BreakerReset != nil {
			breakerCfg.ResetTimeout = *relCfg.BreakerReset
		}
		paymentBreaker = txn.NewCircuitBreaker(breakerCfg)
		inventoryBreaker = txn.NewCircuitBreaker(breakerCfg)
	}

	return orders,
		txn.NewReliablePaymentGateway(payments, paymentBreaker, retry),
		txn.NewReliableInventoryGateway(inventory, inventoryBreaker, retry),
		nil
}

type redisClientAdapter struct {
	client *redis.Client
}

func (a redisClientAdapter) Pipeline() txn.RedisPipeliner {
	return redisPipelineAdapter{pipe: a.client.Pipeline()}
}

type redisPipelineAdapter struct {
	pipe redis.Pipeliner
}

func (p redisPipelineAdapter) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	return p.pipe.HSet(ctx, key, values...)
}

func (p redisPipelineAdapter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return p.pipe.Expire(ctx, key, expiration)
}

func (p redisPipelineAdapter) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	return p.pipe.XAdd(ctx, a)
}

func (p redisPipelineAdapter) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return p.pipe.Exec(ctx)
}
