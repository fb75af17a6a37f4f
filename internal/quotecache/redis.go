package quotecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coin-price-proxy/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache implements Cache on top of redis SET ... EX.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedisClient builds a client for cfg. go-redis dials lazily, so no connection is made here.
func NewRedisClient(cfg *config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger.Named("redis-cache")}
}

// Get returns the quote stored under name. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, name string) (CachedQuote, bool, error) {
	key := Key(name)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CachedQuote{}, false, nil
		}
		c.logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		return CachedQuote{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var quote CachedQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return CachedQuote{}, false, fmt.Errorf("decode cached quote %s: %w", key, err)
	}
	return quote, true, nil
}

// Put overwrites the quote stored under name; redis expires it after ttl.
func (c *RedisCache) Put(ctx context.Context, name string, quote CachedQuote, ttl time.Duration) error {
	key := Key(name)
	data, err := json.Marshal(stamp(quote, ttl, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("encode cached quote: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks the redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
