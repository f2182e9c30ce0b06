package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// SupplierLocker allows one ingestion run per supplier across instances.
// Lock returns ErrSupplierBusy when another holder has the supplier.
type SupplierLocker interface {
	Lock(ctx context.Context, supplierID int64) (unlock func(), err error)
}

// RedisSupplierLocker holds a redislock lease per supplier and refreshes
// it until unlock is called.
type RedisSupplierLocker struct {
	locker *redislock.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// DefaultLockTTL is the lease length; it is refreshed at a third of that.
const DefaultLockTTL = 30 * time.Second

// NewRedisSupplierLocker creates a locker on rdb. Keys are
// {prefix}lock:supplier:{id}.
func NewRedisSupplierLocker(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisSupplierLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSupplierLocker{
		locker: redislock.New(rdb),
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "supplier_locker"),
	}
}

// Lock implements SupplierLocker.
func (l *RedisSupplierLocker) Lock(ctx context.Context, supplierID int64) (func(), error) {
	key := l.prefix + "lock:supplier:" + strconv.FormatInt(supplierID, 10)
	lock, err := l.locker.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: supplier %d", ErrSupplierBusy, supplierID)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain supplier lock: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
				err := lock.Refresh(refreshCtx, l.ttl, nil)
				cancel()
				if err != nil {
					l.logger.Warn("refresh supplier lock", "supplier_id", supplierID, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("release supplier lock", "supplier_id", supplierID, "error", err)
			}
		})
	}, nil
}
