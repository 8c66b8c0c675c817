package txn

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIntegrationMirror mirrors integration entries to Redis: the latest
// status per service lands in a hash, every attempt is appended to a capped
// stream. It is a diagnostic mirror, wired behind a MultiIntegrationSink;
// its failures are swallowed by the caller like any other sink failure.
type RedisIntegrationMirror struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// RedisPipelineClient is the minimal client surface used by the mirror.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// NewRedisIntegrationMirror constructs a Redis-backed integration mirror.
func NewRedisIntegrationMirror(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisIntegrationMirror {
	if stream == "" {
		stream = "integration_events"
	}
	return &RedisIntegrationMirror{
		client:    client,
		stream:    stream,
		keyPrefix: "integration:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Append writes the latest per-service status and appends to the stream.
func (r *RedisIntegrationMirror) Append(ctx context.Context, entry IntegrationEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.keyPrefix + string(entry.Service)
	timestamp := entry.At.UTC().Format(time.RFC3339Nano)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"service":        string(entry.Service),
		"status":         entry.Status,
		"transaction_id": entry.TransactionID,
		"error":          entry.Error,
		"timestamp":      timestamp,
	})
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"service":        string(entry.Service),
			"status":         entry.Status,
			"transaction_id": entry.TransactionID,
			"request":        jsonField(entry.Request),
			"response":       jsonField(entry.Response),
			"error":          entry.Error,
			"timestamp":      timestamp,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}

func jsonField(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
