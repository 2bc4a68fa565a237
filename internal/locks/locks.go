// Package locks provides Redis-backed advisory locks and short-lived caches
// shared by the worker and the keyword pipeline.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld signals a release attempt on a lock the caller does not own.
var ErrNotHeld = fmt.Errorf("lock not held")

// Manager hands out advisory locks with a TTL so a crashed holder cannot
// stall the system past the lease.
type Manager struct {
	client *redis.Client
}

// NewManager wraps an existing Redis client.
func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// Lock is a held advisory lock. Release it when the guarded work finishes.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire attempts to take the named lock for ttl. It does not block: when
// another holder owns the lock it returns (nil, false, nil).
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.NewString()
	key := "lock:" + name
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{client: m.client, key: key, token: token}, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Release frees the lock if this holder still owns it. A lock that expired
// and was re-acquired by someone else is left alone.
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Cache is a thin TTL cache over Redis used for provider responses and
// computed scores.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache wraps a Redis client with a key prefix.
func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Get reads a cached value. The second return reports a hit.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+":"+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores a value for ttl.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+":"+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete drops a cached value.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Incr bumps a counter and refreshes its ttl, returning the new value.
// The keyword pipeline uses it for per-provider failure strikes.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := c.prefix + ":" + key
	n, err := c.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr %s: %w", key, err)
	}
	if ttl > 0 {
		if err := c.client.Expire(ctx, full, ttl).Err(); err != nil {
			return 0, fmt.Errorf("cache expire %s: %w", key, err)
		}
	}
	return n, nil
}
