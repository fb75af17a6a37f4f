package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"coin-price-proxy/internal/catalog"
	"coin-price-proxy/internal/coingecko"
	"coin-price-proxy/internal/models"
	"coin-price-proxy/internal/quotecache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockCatalog is a mock implementation of the CatalogResolver interface.
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Resolve(ctx context.Context, name string) (models.CoinEntry, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(models.CoinEntry), args.Error(1)
}

func (m *MockCatalog) Refresh(ctx context.Context) ([]models.CoinEntry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]models.CoinEntry)
	return entries, args.Error(1)
}

// MockFetcher is a mock implementation of the PriceFetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) GetPrice(ctx context.Context, coinID string) (*coingecko.PriceQuote, error) {
	args := m.Called(ctx, coinID)
	quote, _ := args.Get(0).(*coingecko.PriceQuote)
	return quote, args.Error(1)
}

// MockCoinLister is a mock implementation of catalog.Fetcher.
type MockCoinLister struct {
	mock.Mock
}

func (m *MockCoinLister) ListCoins(ctx context.Context) ([]models.CoinEntry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]models.CoinEntry)
	return entries, args.Error(1)
}

// MockCache is a mock implementation of quotecache.Cache.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, name string) (quotecache.CachedQuote, bool, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(quotecache.CachedQuote), args.Bool(1), args.Error(2)
}

func (m *MockCache) Put(ctx context.Context, name string, quote quotecache.CachedQuote, ttl time.Duration) error {
	return m.Called(ctx, name, quote, ttl).Error(0)
}

func (m *MockCache) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockRecorder is a mock implementation of audit.Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Append(ctx context.Context, record models.QuoteRecord) (uint, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(uint), args.Error(1)
}

var bitcoin = models.CoinEntry{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}

var hasDeadline = mock.MatchedBy(func(ctx context.Context) bool {
	_, ok := ctx.Deadline()
	return ok
})

func bitcoinQuote() *coingecko.PriceQuote {
	return &coingecko.PriceQuote{CoinID: "bitcoin", PriceUSD: 65000.5, FetchedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// setupTest wires a coordinator around mocks and a miniredis-backed cache.
func setupTest(t *testing.T) (*Coordinator, *MockCatalog, *MockFetcher, *MockRecorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	catalogMock := new(MockCatalog)
	fetcher := new(MockFetcher)
	recorder := new(MockRecorder)

	c := NewCoordinator(catalogMock, quotecache.NewRedisCache(client, zap.NewNop()), fetcher, recorder,
		Settings{TTL: 300 * time.Second, CallTimeout: 5 * time.Second}, zap.NewNop())
	return c, catalogMock, fetcher, recorder, mr
}

func TestGetPrice_UpstreamThenCache(t *testing.T) {
	c, catalogMock, fetcher, recorder, _ := setupTest(t)
	catalogMock.On("Resolve", hasDeadline, "bitcoin").Return(bitcoin, nil)
	fetcher.On("GetPrice", hasDeadline, "bitcoin").Return(bitcoinQuote(), nil).Once()
	recorder.On("Append", mock.Anything, models.QuoteRecord{
		CoinID: "bitcoin", CoinName: "Bitcoin", Symbol: "btc", PriceUSD: 65000.5, QueriedAt: bitcoinQuote().FetchedAt,
	}).Return(uint(1), nil).Once()

	first, err := c.GetPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, first.Source)
	assert.Equal(t, "bitcoin", first.CoinID)
	assert.Equal(t, "btc", first.Symbol)
	assert.Equal(t, 65000.5, first.PriceUSD)
	require.NotNil(t, first.QueriedAt)
	assert.Nil(t, first.CachedAt)

	second, err := c.GetPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.CoinID, second.CoinID)
	assert.Equal(t, first.Symbol, second.Symbol)
	assert.Equal(t, first.PriceUSD, second.PriceUSD)
	assert.NotNil(t, second.CachedAt)
	assert.Nil(t, second.QueriedAt)

	fetcher.AssertNumberOfCalls(t, "GetPrice", 1)
	recorder.AssertNumberOfCalls(t, "Append", 1)
}

func TestGetPrice_RefetchAfterExpiry(t *testing.T) {
	c, catalogMock, fetcher, recorder, mr := setupTest(t)
	catalogMock.On("Resolve", mock.Anything, "bitcoin").Return(bitcoin, nil)
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(bitcoinQuote(), nil).Once()
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(&coingecko.PriceQuote{CoinID: "bitcoin", PriceUSD: 66000, FetchedAt: time.Now()}, nil).Once()
	recorder.On("Append", mock.Anything, mock.Anything).Return(uint(1), nil)

	_, err := c.GetPrice(context.Background(), "bitcoin")
	require.NoError(t, err)

	mr.FastForward(301 * time.Second)

	result, err := c.GetPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, result.Source)
	assert.Equal(t, 66000.0, result.PriceUSD)

	result, err = c.GetPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, result.Source)
	assert.Equal(t, 66000.0, result.PriceUSD, "the cache holds the refreshed quote")

	fetcher.AssertNumberOfCalls(t, "GetPrice", 2)
}

func TestGetPrice_CaseInsensitiveSharesCache(t *testing.T) {
	c, catalogMock, fetcher, recorder, _ := setupTest(t)
	catalogMock.On("Resolve", mock.Anything, mock.Anything).Return(bitcoin, nil)
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(bitcoinQuote(), nil).Once()
	recorder.On("Append", mock.Anything, mock.Anything).Return(uint(1), nil)

	_, err := c.GetPrice(context.Background(), "Bitcoin")
	require.NoError(t, err)
	result, err := c.GetPrice(context.Background(), "BITCOIN")
	require.NoError(t, err)

	assert.Equal(t, SourceCache, result.Source)
	fetcher.AssertNumberOfCalls(t, "GetPrice", 1)
}

func TestGetPrice_UnknownName(t *testing.T) {
	c, catalogMock, fetcher, recorder, mr := setupTest(t)
	catalogMock.On("Resolve", mock.Anything, "Dogecoinnn").Return(models.CoinEntry{}, fmt.Errorf("%w: %q", catalog.ErrNotFound, "Dogecoinnn"))

	result, err := c.GetPrice(context.Background(), "Dogecoinnn")

	assert.Nil(t, result)
	assert.Equal(t, ReasonUnknownName, ReasonOf(err))
	assert.Contains(t, err.Error(), "Dogecoinnn")
	fetcher.AssertNotCalled(t, "GetPrice", mock.Anything, mock.Anything)
	recorder.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	assert.Empty(t, mr.Keys())
}

func TestGetPrice_CatalogUnavailable(t *testing.T) {
	c, catalogMock, fetcher, _, _ := setupTest(t)
	upstreamErr := &coingecko.FetchError{Op: "list coins", StatusCode: http.StatusTooManyRequests, Body: "rate limited"}
	catalogMock.On("Resolve", mock.Anything, "bitcoin").Return(models.CoinEntry{}, fmt.Errorf("refresh catalog: %w", upstreamErr))

	_, err := c.GetPrice(context.Background(), "bitcoin")

	var lookupErr *Error
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, ReasonCatalogUnavailable, lookupErr.Reason)
	assert.Contains(t, lookupErr.Detail(), "rate limited")
	fetcher.AssertNotCalled(t, "GetPrice", mock.Anything, mock.Anything)
}

func TestGetPrice_UpstreamError(t *testing.T) {
	c, catalogMock, fetcher, recorder, mr := setupTest(t)
	catalogMock.On("Resolve", mock.Anything, "bitcoin").Return(bitcoin, nil)
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(nil, &coingecko.FetchError{Op: "get price", StatusCode: http.StatusBadGateway, Body: "bad gateway"})

	result, err := c.GetPrice(context.Background(), "bitcoin")

	assert.Nil(t, result)
	var lookupErr *Error
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, ReasonUpstreamError, lookupErr.Reason)
	assert.Contains(t, lookupErr.Detail(), "bad gateway")
	var fetchErr *coingecko.FetchError
	assert.ErrorAs(t, err, &fetchErr)
	recorder.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	assert.Empty(t, mr.Keys(), "nothing is cached on failure")
}

func TestGetPrice_AuditFailureIsInvisible(t *testing.T) {
	c, catalogMock, fetcher, recorder, _ := setupTest(t)
	catalogMock.On("Resolve", mock.Anything, "bitcoin").Return(bitcoin, nil)
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(bitcoinQuote(), nil)
	recorder.On("Append", mock.Anything, mock.Anything).Return(uint(0), errors.New("database is locked"))

	result, err := c.GetPrice(context.Background(), "bitcoin")

	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, result.Source)
	assert.Equal(t, 65000.5, result.PriceUSD)

	// The cache write still happened before the audit write failed.
	result, err = c.GetPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, result.Source)
}

func TestGetPrice_CacheFailuresAreInvisible(t *testing.T) {
	catalogMock := new(MockCatalog)
	catalogMock.On("Resolve", mock.Anything, "bitcoin").Return(bitcoin, nil)
	fetcher := new(MockFetcher)
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(bitcoinQuote(), nil)
	recorder := new(MockRecorder)
	recorder.On("Append", mock.Anything, mock.Anything).Return(uint(3), nil)
	cache := new(MockCache)
	cache.On("Get", mock.Anything, "bitcoin").Return(quotecache.CachedQuote{}, false, errors.New("connection refused"))
	cache.On("Put", mock.Anything, "bitcoin", quotecache.CachedQuote{CoinID: "bitcoin", PriceUSD: 65000.5}, 300*time.Second).Return(errors.New("connection refused"))

	c := NewCoordinator(catalogMock, cache, fetcher, recorder, Settings{}, zap.NewNop())

	result, err := c.GetPrice(context.Background(), "bitcoin")

	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, result.Source)
	assert.Equal(t, 65000.5, result.PriceUSD)
	cache.AssertExpectations(t)
	recorder.AssertNumberOfCalls(t, "Append", 1)
}

func TestGetPrice_CachedQuoteForOtherCoinIsIgnored(t *testing.T) {
	c, catalogMock, fetcher, recorder, _ := setupTest(t)
	catalogMock.On("Resolve", mock.Anything, "bitcoin").Return(bitcoin, nil)
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(bitcoinQuote(), nil).Once()
	recorder.On("Append", mock.Anything, mock.Anything).Return(uint(1), nil)
	require.NoError(t, c.cache.Put(context.Background(), "bitcoin", quotecache.CachedQuote{CoinID: "old-bitcoin", PriceUSD: 1}, time.Minute))

	result, err := c.GetPrice(context.Background(), "bitcoin")

	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, result.Source)
	assert.Equal(t, 65000.5, result.PriceUSD)
}

func TestGetPrice_EmptyCatalogRefreshesOnce(t *testing.T) {
	lister := new(MockCoinLister)
	lister.On("ListCoins", mock.Anything).Return([]models.CoinEntry{bitcoin}, nil).Once()
	store := catalog.NewStore(lister, nil, zap.NewNop())

	fetcher := new(MockFetcher)
	fetcher.On("GetPrice", mock.Anything, "bitcoin").Return(bitcoinQuote(), nil)
	recorder := new(MockRecorder)
	recorder.On("Append", mock.Anything, mock.Anything).Return(uint(1), nil)

	c := NewCoordinator(store, quotecache.NewMemoryCache(), fetcher, recorder, Settings{}, zap.NewNop())

	first, err := c.GetPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, first.Source)
	_, err = c.GetPrice(context.Background(), "Dogecoinnn")
	assert.Equal(t, ReasonUnknownName, ReasonOf(err))

	lister.AssertNumberOfCalls(t, "ListCoins", 1)
	fetcher.AssertNumberOfCalls(t, "GetPrice", 1)
}

func TestListCatalog(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c, catalogMock, _, _, _ := setupTest(t)
		catalogMock.On("Refresh", hasDeadline).Return([]models.CoinEntry{bitcoin}, nil)

		entries, err := c.ListCatalog(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []models.CoinEntry{bitcoin}, entries)
	})

	t.Run("Failure", func(t *testing.T) {
		c, catalogMock, _, _, _ := setupTest(t)
		catalogMock.On("Refresh", mock.Anything).Return(nil, errors.New("timeout"))

		entries, err := c.ListCatalog(context.Background())

		assert.Nil(t, entries)
		assert.Equal(t, ReasonCatalogUnavailable, ReasonOf(err))
	})
}
