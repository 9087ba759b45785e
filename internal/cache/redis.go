package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/creatorlab/gramsync/pkg/config"
	"github.com/creatorlab/gramsync/pkg/logging"
)

// Cache wraps the Redis client used by the job queue and sync lease
type Cache struct {
	client *redis.Client
}

// New creates a new Redis client
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client (used by tests)
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get retrieves a value
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	return c.client.Get(ctx, key).Result()
}

// Set sets a value with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// SetNX sets a value only when the key does not exist; reports whether
// the key was set.
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrCacheDisabled
	}
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes a key
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(ctx, key).Err()
}

// LPush pushes a value onto the head of a list
func (c *Cache) LPush(ctx context.Context, key string, value interface{}) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.LPush(ctx, key, value).Err()
}

// BRPop pops from the tail of a list, blocking up to timeout.
// Returns redis.Nil-wrapped error on timeout.
func (c *Cache) BRPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	vals, err := c.client.BRPop(ctx, timeout, key).Result()
	if err != nil {
		return "", err
	}
	// BRPOP returns [key, value]
	if len(vals) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length: %d", len(vals))
	}
	return vals[1], nil
}

// IsNil reports whether an error is the redis empty-reply sentinel
func IsNil(err error) bool {
	return err == redis.Nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when Redis operations are attempted but Redis is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
)
