package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"coin-price-proxy/internal/lookup"
	"coin-price-proxy/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PriceService is implemented by *lookup.Coordinator.
type PriceService interface {
	ListCatalog(ctx context.Context) ([]models.CoinEntry, error)
	GetPrice(ctx context.Context, name string) (*lookup.PriceResult, error)
}

// CatalogInfo exposes the current catalog for the status endpoint.
type CatalogInfo interface {
	Entries() []models.CoinEntry
	RefreshedAt() time.Time
}

// QuoteHistory lists recorded quotes.
type QuoteHistory interface {
	Recent(ctx context.Context, limit int) ([]models.QuoteRecord, error)
}

// Pinger checks a backend connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is the structure for the /status endpoint.
type StatusResponse struct {
	UUID               string     `json:"uuid"`
	Name               string     `json:"name"`
	StartTime          string     `json:"start_time"`
	Uptime             string     `json:"uptime"`
	CatalogSize        int        `json:"catalog_size"`
	CatalogRefreshedAt *time.Time `json:"catalog_refreshed_at,omitempty"`
}

// Handler holds dependencies for the API endpoints.
type Handler struct {
	prices    PriceService
	catalog   CatalogInfo
	history   QuoteHistory
	cache     Pinger
	log       *zap.Logger
	uuid      string
	startTime time.Time
}

// NewHandler creates a new Handler.
func NewHandler(prices PriceService, catalog CatalogInfo, history QuoteHistory, cache Pinger, log *zap.Logger) *Handler {
	return &Handler{
		prices:    prices,
		catalog:   catalog,
		history:   history,
		cache:     cache,
		log:       log.Named("api"),
		uuid:      uuid.NewString(),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers every endpoint on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/coins", h.listCoins)
	r.GET("/price/:name", h.getPrice)
	r.GET("/quotes", h.listQuotes)
	r.GET("/ping", h.ping)
	r.GET("/health", h.health)
	r.GET("/status", h.status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *Handler) listCoins(c *gin.Context) {
	entries, err := h.prices.ListCatalog(c.Request.Context())
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) getPrice(c *gin.Context) {
	result, err := h.prices.GetPrice(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listQuotes(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("Failed to get quote records from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to get quote history"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) ping(c *gin.Context) {
	if err := h.cache.Ping(c.Request.Context()); err != nil {
		h.log.Warn("Cache ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "cache is unreachable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cache is online"})
}

func (h *Handler) health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *Handler) status(c *gin.Context) {
	resp := StatusResponse{
		UUID:        h.uuid,
		Name:        "coin-price-proxy",
		StartTime:   h.startTime.Format(time.RFC3339),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		CatalogSize: len(h.catalog.Entries()),
	}
	if at := h.catalog.RefreshedAt(); !at.IsZero() {
		resp.CatalogRefreshedAt = &at
	}
	c.JSON(http.StatusOK, resp)
}

// writeLookupError maps a lookup failure reason to an HTTP status.
func (h *Handler) writeLookupError(c *gin.Context, err error) {
	resp := ErrorResponse{Message: "internal error", Error: err.Error()}
	status := http.StatusInternalServerError

	var lookupErr *lookup.Error
	if errors.As(err, &lookupErr) {
		resp = ErrorResponse{Message: lookupErr.Message, Reason: string(lookupErr.Reason), Error: lookupErr.Detail()}
		switch lookupErr.Reason {
		case lookup.ReasonUnknownName:
			status = http.StatusNotFound
		case lookup.ReasonCatalogUnavailable, lookup.ReasonUpstreamError:
			status = http.StatusBadGateway
		}
	}

	c.JSON(status, resp)
}
