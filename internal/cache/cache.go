// Package cache provides a Redis-backed cache plus the dispatch run lock.
// When Redis is not configured everything degrades to a no-op: cache misses
// everywhere, and the run lock always grants — the engine's conditional
// claim updates remain the correctness boundary either way.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runLockKey = "tribe:dispatch:lock"
	// Generously above the expected run duration; expires on its own if an
	// invocation dies without unlocking.
	runLockTTL = 4 * time.Minute
)

// Cache wraps a Redis client. Safe to use when disabled.
type Cache struct {
	client  *redis.Client
	enabled bool
}

// New connects to Redis when redisURL is set; otherwise returns a disabled
// cache.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	if redisURL == "" {
		return &Cache{}, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping Redis: %w", err)
	}

	return &Cache{client: client, enabled: true}, nil
}

// Enabled reports whether a Redis backend is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// Close releases the client connection.
func (c *Cache) Close() {
	if c.Enabled() {
		_ = c.client.Close()
	}
}

// Get retrieves a cached value. A disabled cache always misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores a value with a TTL. Best effort.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	_ = c.client.Set(ctx, key, val, ttl).Err()
}

// TryLock acquires the dispatch run lock. A disabled cache always grants.
func (c *Cache) TryLock(ctx context.Context) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}
	return c.client.SetNX(ctx, runLockKey, time.Now().UTC().Format(time.RFC3339), runLockTTL).Result()
}

// Unlock releases the dispatch run lock.
func (c *Cache) Unlock(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	_ = c.client.Del(ctx, runLockKey).Err()
}

// Stats returns cache health for the /health/cache endpoint.
func (c *Cache) Stats(ctx context.Context) map[string]interface{} {
	if !c.Enabled() {
		return map[string]interface{}{"enabled": false}
	}
	stats := map[string]interface{}{"enabled": true}
	if err := c.client.Ping(ctx).Err(); err != nil {
		stats["reachable"] = false
		return stats
	}
	stats["reachable"] = true
	if n, err := c.client.DBSize(ctx).Result(); err == nil {
		stats["keys"] = n
	}
	return stats
}
