// Package quotecache stores recently fetched quotes for a fixed TTL.
package quotecache

import (
	"context"
	"strings"
	"time"

	"coin-price-proxy/internal/config"
	"go.uber.org/zap"
)

const keyPrefix = "quote:"

const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// startupPingTimeout bounds the connectivity check in Open.
const startupPingTimeout = 3 * time.Second

// DefaultTTL is the quote lifetime used when none is configured.
const DefaultTTL = 300 * time.Second

// CachedQuote is a quote held in the cache. It is never persisted elsewhere.
type CachedQuote struct {
	CoinID     string    `json:"coin_id"`
	PriceUSD   float64   `json:"price_usd"`
	CachedAt   time.Time `json:"cached_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// ExpiresAt is CachedAt plus the TTL.
func (q CachedQuote) ExpiresAt() time.Time {
	return q.CachedAt.Add(time.Duration(q.TTLSeconds) * time.Second)
}

// Cache is a key/value quote store with per-key expiry.
// Get reports found=false for absent or expired keys; err is reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, name string) (quote CachedQuote, found bool, err error)
	Put(ctx context.Context, name string, quote CachedQuote, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Key maps a coin name to its cache key.
func Key(name string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(name))
}

func stamp(quote CachedQuote, ttl time.Duration, now time.Time) CachedQuote {
	if quote.CachedAt.IsZero() {
		quote.CachedAt = now
	}
	quote.TTLSeconds = int(ttl / time.Second)
	return quote
}

// Open builds the configured cache driver. An unreachable redis is only logged:
// the client reconnects on its own and lookups treat its errors as misses meanwhile.
// The returned close func releases the driver's connections.
func Open(ctx context.Context, driver string, redisCfg *config.Redis, logger *zap.Logger) (Cache, func() error) {
	if driver == DriverMemory {
		return NewMemoryCache(), func() error { return nil }
	}

	cache := NewRedisCache(NewRedisClient(redisCfg), logger)

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		logger.Warn("Redis is not reachable, serving without the quote cache until it is", zap.String("addr", redisCfg.Addr), zap.Error(err))
	} else {
		logger.Info("Connected to redis", zap.String("addr", redisCfg.Addr))
	}
	return cache, cache.Close
}
