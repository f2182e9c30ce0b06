package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProgressMirror keeps a copy of run progress outside the process, so a
// run can be looked up after the in-memory registry forgets it or from
// another instance.
type ProgressMirror interface {
	Publish(ctx context.Context, p RunProgress) error
	Load(ctx context.Context, runID string) (RunProgress, error)
}

// RedisProgressMirror stores the latest progress per run under
// {prefix}run:{id} with a TTL and publishes every update on {prefix}runs.
type RedisProgressMirror struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisProgressMirror connects to Redis and verifies the connection.
func NewRedisProgressMirror(ctx context.Context, opts *redis.Options, prefix string, ttl time.Duration, logger *slog.Logger) (*RedisProgressMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisProgressMirrorWithClient(rdb, prefix, ttl, logger), nil
}

// NewRedisProgressMirrorWithClient wraps an existing client.
func NewRedisProgressMirrorWithClient(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisProgressMirror {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProgressMirror{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "progress_mirror"),
	}
}

func (m *RedisProgressMirror) key(runID string) string {
	return m.prefix + "run:" + runID
}

func (m *RedisProgressMirror) channel() string {
	return m.prefix + "runs"
}

// Publish implements ProgressMirror.
func (m *RedisProgressMirror) Publish(ctx context.Context, p RunProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, m.key(p.RunID), raw, m.ttl)
	pipe.Publish(ctx, m.channel(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror run %s: %w", p.RunID, err)
	}
	return nil
}

// Load implements ProgressMirror.
func (m *RedisProgressMirror) Load(ctx context.Context, runID string) (RunProgress, error) {
	raw, err := m.rdb.Get(ctx, m.key(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RunProgress{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return RunProgress{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	var p RunProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return RunProgress{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return p, nil
}

// Client returns the underlying Redis client.
func (m *RedisProgressMirror) Client() *redis.Client {
	return m.rdb
}

// Close closes the Redis client.
func (m *RedisProgressMirror) Close() error {
	return m.rdb.Close()
}
