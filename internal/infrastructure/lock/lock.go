// Package lock provides the slice lock used to serialize allocation
// recomputes: a Redis lock shared by every process, or an in-process keyed
// mutex for single-instance deployments.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/erp/costalloc/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRetryInterval is the pause between attempts to take a busy lock
const DefaultRetryInterval = 100 * time.Millisecond

// RedisLocker takes slice locks in Redis with redislock
type RedisLocker struct {
	client *redislock.Client
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker on client that waits up to wait for a busy lock
func NewRedisLocker(client redis.UniversalClient, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
		wait:   wait,
		retry:  DefaultRetryInterval,
	}
}

// Acquire implements allocation.Locker
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (allocation.LockHandle, error) {
	ctx, cancel := withWait(ctx, l.wait)
	defer cancel()

	opts := &redislock.Options{RetryStrategy: redislock.NoRetry()}
	if l.wait > 0 {
		opts.RetryStrategy = redislock.LinearBackoff(l.retry)
	}
	lk, err := l.client.Obtain(ctx, key, ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.NewLockNotObtained(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return redisHandle{lock: lk}, nil
}

type redisHandle struct {
	lock *redislock.Lock
}

// Release frees the lock. A lock that already expired is not an error.
func (h redisHandle) Release(ctx context.Context) error {
	if err := h.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("failed to release lock %s: %w", h.lock.Key(), err)
	}
	return nil
}

// LocalLocker is a keyed mutex. It only serializes workers of one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	wait  time.Duration
}

// NewLocalLocker creates a keyed mutex that waits up to wait for a busy key
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{}), wait: wait}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire implements allocation.Locker. ttl is ignored: the lock lives
// until released.
func (l *LocalLocker) Acquire(ctx context.Context, key string, _ time.Duration) (allocation.LockHandle, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return &localHandle{ch: ch}, nil
	default:
	}
	if l.wait <= 0 {
		return nil, shared.NewLockNotObtained(key)
	}

	ctx, cancel := withWait(ctx, l.wait)
	defer cancel()
	select {
	case ch <- struct{}{}:
		return &localHandle{ch: ch}, nil
	case <-ctx.Done():
		return nil, shared.NewLockNotObtained(key)
	}
}

type localHandle struct {
	once sync.Once
	ch   chan struct{}
}

func (h *localHandle) Release(context.Context) error {
	h.once.Do(func() { <-h.ch })
	return nil
}

func withWait(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if wait <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, wait)
}

// NewLocker returns a Redis locker when Redis is enabled and reachable, and
// a local locker otherwise. The returned close function releases the Redis client.
func NewLocker(ctx context.Context, redisCfg config.RedisConfig, wait time.Duration, logger *zap.Logger) (allocation.Locker, func() error) {
	noop := func() error { return nil }
	if !redisCfg.Enabled {
		logger.Info("Redis disabled, using in-process slice locks")
		return NewLocalLocker(wait), noop
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, falling back to in-process slice locks",
			zap.String("addr", redisCfg.Addr()), zap.Error(err))
		_ = client.Close()
		return NewLocalLocker(wait), noop
	}
	logger.Info("Using Redis slice locks", zap.String("addr", redisCfg.Addr()))
	return NewRedisLocker(client, wait), client.Close
}

var (
	_ allocation.Locker = (*RedisLocker)(nil)
	_ allocation.Locker = (*LocalLocker)(nil)
)
