// Package lookup resolves a coin name to a USD quote, serving from the quote cache when
// possible and writing fresh upstream quotes through to the cache and the audit log.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coin-price-proxy/internal/audit"
	"coin-price-proxy/internal/catalog"
	"coin-price-proxy/internal/coingecko"
	"coin-price-proxy/internal/models"
	"coin-price-proxy/internal/quotecache"
	"go.uber.org/zap"
)

// State is a step of a single price lookup.
type State string

const (
	StateResolving  State = "resolving"
	StateCacheCheck State = "cache_check"
	StateFetching   State = "fetching"
	StateCacheWrite State = "cache_write"
	StateAuditWrite State = "audit_write"
	StateRespond    State = "respond"
)

// Source tells where a quote came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceUpstream Source = "upstream"
)

// CatalogResolver is the part of the catalog store the coordinator uses.
type CatalogResolver interface {
	Resolve(ctx context.Context, name string) (models.CoinEntry, error)
	Refresh(ctx context.Context) ([]models.CoinEntry, error)
}

// PriceFetcher performs the upstream price lookup.
type PriceFetcher interface {
	GetPrice(ctx context.Context, coinID string) (*coingecko.PriceQuote, error)
}

// PriceResult is a successful lookup. QueriedAt is set for upstream quotes,
// CachedAt for cached ones.
type PriceResult struct {
	Source    Source     `json:"source"`
	CoinID    string     `json:"coinId"`
	Symbol    string     `json:"symbol"`
	Name      string     `json:"name"`
	PriceUSD  float64    `json:"priceUsd"`
	QueriedAt *time.Time `json:"queriedAt,omitempty"`
	CachedAt  *time.Time `json:"cachedAt,omitempty"`
}

// Settings are the per-deployment knobs of the coordinator.
type Settings struct {
	TTL         time.Duration // lifetime of cached quotes
	CallTimeout time.Duration // bound on each external call
}

// Coordinator runs price lookups. It is safe for concurrent use.
type Coordinator struct {
	catalog  CatalogResolver
	cache    quotecache.Cache
	fetcher  PriceFetcher
	recorder audit.Recorder
	settings Settings
	logger   *zap.Logger
}

// NewCoordinator creates a Coordinator. Zero settings fall back to a 300s TTL and a 10s call timeout.
func NewCoordinator(resolver CatalogResolver, cache quotecache.Cache, fetcher PriceFetcher, recorder audit.Recorder, settings Settings, logger *zap.Logger) *Coordinator {
	if settings.TTL <= 0 {
		settings.TTL = quotecache.DefaultTTL
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = 10 * time.Second
	}
	return &Coordinator{
		catalog:  resolver,
		cache:    cache,
		fetcher:  fetcher,
		recorder: recorder,
		settings: settings,
		logger:   logger.Named("lookup"),
	}
}

// ListCatalog refreshes the catalog from upstream and returns it.
func (c *Coordinator) ListCatalog(ctx context.Context) ([]models.CoinEntry, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.settings.CallTimeout)
	defer cancel()

	entries, err := c.catalog.Refresh(callCtx)
	if err != nil {
		return nil, &Error{Reason: ReasonCatalogUnavailable, Message: "failed to fetch the coin list", Cause: err}
	}
	return entries, nil
}

// GetPrice returns the USD quote for the coin called name.
// Failures are always *Error; cache and audit write failures never surface here.
func (c *Coordinator) GetPrice(ctx context.Context, name string) (*PriceResult, error) {
	l := c.logger.With(zap.String("name", name))

	l.Debug("Lookup state", zap.String("state", string(StateResolving)))
	entry, err := c.resolve(ctx, name)
	if err != nil {
		return nil, c.fail(l, StateResolving, err)
	}
	l = l.With(zap.String("coin_id", entry.ID))

	l.Debug("Lookup state", zap.String("state", string(StateCacheCheck)))
	if cached, ok := c.cached(ctx, l, name, entry); ok {
		lookupsTotal.WithLabelValues(string(SourceCache)).Inc()
		cachedAt := cached.CachedAt
		return &PriceResult{
			Source:   SourceCache,
			CoinID:   entry.ID,
			Symbol:   entry.Symbol,
			Name:     entry.Name,
			PriceUSD: cached.PriceUSD,
			CachedAt: &cachedAt,
		}, nil
	}

	l.Debug("Lookup state", zap.String("state", string(StateFetching)))
	quote, err := c.fetch(ctx, entry.ID)
	if err != nil {
		return nil, c.fail(l, StateFetching, err)
	}

	c.bestEffort(ctx, l, StateCacheWrite, func(ctx context.Context) error {
		return c.cache.Put(ctx, name, quotecache.CachedQuote{CoinID: entry.ID, PriceUSD: quote.PriceUSD}, c.settings.TTL)
	})

	c.bestEffort(ctx, l, StateAuditWrite, func(ctx context.Context) error {
		id, err := c.recorder.Append(ctx, models.QuoteRecord{
			CoinID:    entry.ID,
			CoinName:  entry.Name,
			Symbol:    entry.Symbol,
			PriceUSD:  quote.PriceUSD,
			QueriedAt: quote.FetchedAt,
		})
		if err == nil {
			l.Debug("Quote recorded", zap.Uint("record_id", id))
		}
		return err
	})

	lookupsTotal.WithLabelValues(string(SourceUpstream)).Inc()
	l.Info("Served upstream quote", zap.Float64("price_usd", quote.PriceUSD))

	queriedAt := quote.FetchedAt
	return &PriceResult{
		Source:    SourceUpstream,
		CoinID:    entry.ID,
		Symbol:    entry.Symbol,
		Name:      entry.Name,
		PriceUSD:  quote.PriceUSD,
		QueriedAt: &queriedAt,
	}, nil
}

func (c *Coordinator) resolve(ctx context.Context, name string) (models.CoinEntry, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.settings.CallTimeout)
	defer cancel()

	entry, err := c.catalog.Resolve(callCtx, name)
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, catalog.ErrNotFound):
		return models.CoinEntry{}, &Error{Reason: ReasonUnknownName, Message: fmt.Sprintf("unknown coin name %q", name)}
	default:
		return models.CoinEntry{}, &Error{Reason: ReasonCatalogUnavailable, Message: "failed to load the coin list", Cause: err}
	}
}

// cached reports a usable cache hit. Cache errors count as a miss.
func (c *Coordinator) cached(ctx context.Context, l *zap.Logger, name string, entry models.CoinEntry) (quotecache.CachedQuote, bool) {
	callCtx, cancel := context.WithTimeout(ctx, c.settings.CallTimeout)
	defer cancel()

	cached, found, err := c.cache.Get(callCtx, name)
	if err != nil {
		bestEffortFailures.WithLabelValues(string(StateCacheCheck)).Inc()
		l.Warn("Quote cache unavailable, treating as miss", zap.Error(err))
		return quotecache.CachedQuote{}, false
	}
	if !found {
		return quotecache.CachedQuote{}, false
	}
	// The catalog may have remapped the name since the quote was cached.
	if cached.CoinID != entry.ID {
		l.Info("Ignoring cached quote for a different coin", zap.String("cached_coin_id", cached.CoinID))
		return quotecache.CachedQuote{}, false
	}
	return cached, true
}

func (c *Coordinator) fetch(ctx context.Context, coinID string) (*coingecko.PriceQuote, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.settings.CallTimeout)
	defer cancel()

	start := time.Now()
	quote, err := c.fetcher.GetPrice(callCtx, coinID)
	upstreamFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &Error{Reason: ReasonUpstreamError, Message: "failed to fetch the price", Cause: err}
	}
	return quote, nil
}

// bestEffort runs a secondary write. Its error is logged and dropped on purpose.
// The write outlives a client that has already gone away.
func (c *Coordinator) bestEffort(ctx context.Context, l *zap.Logger, state State, op func(context.Context) error) {
	l.Debug("Lookup state", zap.String("state", string(state)))

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.CallTimeout)
	defer cancel()

	if err := op(callCtx); err != nil {
		bestEffortFailures.WithLabelValues(string(state)).Inc()
		l.Warn("Secondary write failed", zap.String("state", string(state)), zap.Error(err))
	}
}

func (c *Coordinator) fail(l *zap.Logger, state State, err error) error {
	reason := ReasonOf(err)
	lookupsTotal.WithLabelValues(string(reason)).Inc()
	if reason == ReasonUnknownName {
		l.Info("Lookup failed", zap.String("state", string(state)), zap.String("reason", string(reason)))
	} else {
		l.Error("Lookup failed", zap.String("state", string(state)), zap.String("reason", string(reason)), zap.Error(err))
	}
	return err
}
