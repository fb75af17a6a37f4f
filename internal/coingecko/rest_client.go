package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"coin-price-proxy/internal/config"
	"coin-price-proxy/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	apiKeyHeader   = "x-cg-demo-api-key"
	vsCurrency     = "usd"
)

// ErrMalformedPayload is wrapped by FetchError when a 2xx response cannot be used.
var ErrMalformedPayload = errors.New("malformed payload")

// RestClientInterface defines the interface for the CoinGecko REST API client.
type RestClientInterface interface {
	Ping(ctx context.Context) error
	ListCoins(ctx context.Context) ([]models.CoinEntry, error)
	GetPrice(ctx context.Context, coinID string) (*PriceQuote, error)
}

// FetchError describes a failed upstream call. StatusCode is zero for transport failures.
type FetchError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("coingecko %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("coingecko %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("coingecko %s: %v", e.Op, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// PriceQuote is a single USD price observation.
type PriceQuote struct {
	CoinID    string
	PriceUSD  float64
	FetchedAt time.Time
}

// RestClient is a client for the CoinGecko REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client          *resty.Client
	logger          *zap.Logger
	limiter         *rate.Limiter
	catalogAttempts int
	backoff         time.Duration
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new CoinGecko REST API client.
func NewRestClient(cfg *config.Upstream, logger *zap.Logger) *RestClient {
	url := cfg.BaseURL
	if url == "" {
		url = defaultBaseURL
	}

	client := resty.New().
		SetBaseURL(url).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetHeader("Accept", "application/json")

	if cfg.ApiKey != "" {
		client.SetHeader(apiKeyHeader, cfg.ApiKey)
	} else {
		logger.Warn("No CoinGecko API key configured, using the public rate limit")
	}

	// rate.Limit is requests per second.
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	attempts := cfg.CatalogAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return &RestClient{
		client:          client,
		logger:          logger.Named("coingecko"),
		limiter:         rate.NewLimiter(limit, burst),
		catalogAttempts: attempts,
		backoff:         time.Second,
	}
}

// doRequest executes a request with rate limiting. Throttling and server errors are
// retried with exponential backoff until attempts is exhausted.
func (c *RestClient) doRequest(ctx context.Context, op, path string, req *resty.Request, attempts int) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < attempts; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Op: op, Err: fmt.Errorf("rate limiter wait failed: %w", err)}
		}

		c.logger.Debug("Executing request", zap.String("op", op), zap.String("url", c.client.BaseURL+path))
		resp, err = req.SetContext(ctx).Execute(http.MethodGet, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		var fetchErr *FetchError
		shouldRetry := false
		var retryAfter time.Duration

		if err != nil {
			// Network or other client-side errors
			fetchErr = &FetchError{Op: op, Err: err}
			shouldRetry = ctx.Err() == nil
		} else {
			statusCode := resp.StatusCode()
			fetchErr = &FetchError{Op: op, StatusCode: statusCode, Body: resp.String()}
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		}

		if !shouldRetry || i == attempts-1 {
			return nil, fetchErr
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(fetchErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, &FetchError{Op: op, Err: ctx.Err()}
		}
	}

	return nil, &FetchError{Op: op, Err: fmt.Errorf("request failed after %d attempts: %w", attempts, err)}
}

// Ping checks connectivity with the CoinGecko API.
func (c *RestClient) Ping(ctx context.Context) error {
	if _, err := c.doRequest(ctx, "ping", "/ping", c.client.R(), 1); err != nil {
		return err
	}
	return nil
}

type coinListItem struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// ListCoins fetches the full coin catalog in upstream order.
func (c *RestClient) ListCoins(ctx context.Context) ([]models.CoinEntry, error) {
	resp, err := c.doRequest(ctx, "list coins", "/coins/list", c.client.R(), c.catalogAttempts)
	if err != nil {
		return nil, err
	}

	var items []coinListItem
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, &FetchError{Op: "list coins", StatusCode: resp.StatusCode(), Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}

	entries := make([]models.CoinEntry, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.Name == "" {
			continue
		}
		entries = append(entries, models.CoinEntry(item))
	}

	c.logger.Debug("Fetched coin list", zap.Int("count", len(entries)))
	return entries, nil
}

// GetPrice fetches the USD price of one coin. It makes a single attempt.
func (c *RestClient) GetPrice(ctx context.Context, coinID string) (*PriceQuote, error) {
	req := c.client.R().
		SetQueryParam("ids", coinID).
		SetQueryParam("vs_currencies", vsCurrency)

	resp, err := c.doRequest(ctx, "get price", "/simple/price", req, 1)
	if err != nil {
		return nil, err
	}

	// {"bitcoin": {"usd": 65000.5}}
	var payload map[string]map[string]*float64
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, &FetchError{Op: "get price", StatusCode: resp.StatusCode(), Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}

	// A null price decodes to nil and is as unusable as a missing one.
	price := payload[coinID][vsCurrency]
	if price == nil {
		return nil, &FetchError{Op: "get price", StatusCode: resp.StatusCode(), Err: fmt.Errorf("%w: no %s price for %q", ErrMalformedPayload, vsCurrency, coinID)}
	}

	return &PriceQuote{CoinID: coinID, PriceUSD: *price, FetchedAt: time.Now().UTC()}, nil
}
