// Package cache remembers which Pub/Sub messages were already applied, so a
// late redelivery of an old batch cannot overwrite newer scope data.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/costalloc/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "costalloc:delivered:"

// RedisDeliveryLog shares applied message ids between consumer instances
type RedisDeliveryLog struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisDeliveryLog creates a delivery log over client
func NewRedisDeliveryLog(client redis.UniversalClient, keyPrefix string) *RedisDeliveryLog {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisDeliveryLog{client: client, keyPrefix: keyPrefix}
}

// Seen reports whether id was recorded and has not expired
func (l *RedisDeliveryLog) Seen(ctx context.Context, id string) (bool, error) {
	n, err := l.client.Exists(ctx, l.keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up delivery %s: %w", id, err)
	}
	return n > 0, nil
}

// Record remembers id for ttl
func (l *RedisDeliveryLog) Record(ctx context.Context, id string, ttl time.Duration) error {
	if err := l.client.Set(ctx, l.keyPrefix+id, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("failed to record delivery %s: %w", id, err)
	}
	return nil
}

// MemoryDeliveryLog keeps applied message ids in process. It suits a single
// consumer instance.
type MemoryDeliveryLog struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryDeliveryLog creates an empty in-process delivery log
func NewMemoryDeliveryLog() *MemoryDeliveryLog {
	return &MemoryDeliveryLog{expires: make(map[string]time.Time), now: time.Now}
}

// Seen reports whether id was recorded and has not expired
func (l *MemoryDeliveryLog) Seen(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.expires[id]
	return ok && l.now().Before(exp), nil
}

// Record remembers id for ttl. Expired ids are swept on every call.
func (l *MemoryDeliveryLog) Record(_ context.Context, id string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, exp := range l.expires {
		if !now.Before(exp) {
			delete(l.expires, k)
		}
	}
	l.expires[id] = now.Add(ttl)
	return nil
}

// Len returns the number of ids held
func (l *MemoryDeliveryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expires)
}

// DeliveryLog is implemented by both logs
type DeliveryLog interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, id string, ttl time.Duration) error
}

// NewDeliveryLog returns a Redis delivery log when Redis is enabled and
// reachable, and an in-process one otherwise. The close function releases
// the Redis client.
func NewDeliveryLog(ctx context.Context, redisCfg config.RedisConfig, logger *zap.Logger) (DeliveryLog, func() error) {
	noop := func() error { return nil }
	if !redisCfg.Enabled {
		return NewMemoryDeliveryLog(), noop
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, remembering deliveries in process",
			zap.String("addr", redisCfg.Addr()), zap.Error(err))
		_ = client.Close()
		return NewMemoryDeliveryLog(), noop
	}
	return NewRedisDeliveryLog(client, ""), client.Close
}

var (
	_ DeliveryLog = (*RedisDeliveryLog)(nil)
	_ DeliveryLog = (*MemoryDeliveryLog)(nil)
)
