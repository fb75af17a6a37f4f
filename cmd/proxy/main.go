package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coin-price-proxy/internal/api"
	"coin-price-proxy/internal/audit"
	"coin-price-proxy/internal/catalog"
	"coin-price-proxy/internal/coingecko"
	"coin-price-proxy/internal/config"
	"coin-price-proxy/internal/database"
	"coin-price-proxy/internal/logger"
	"coin-price-proxy/internal/lookup"
	"coin-price-proxy/internal/quotecache"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize CoinGecko REST client
	restClient := coingecko.NewRestClient(&cfg.Upstream, log)
	if err := restClient.Ping(ctx); err != nil {
		// Lookups report upstream_error until it comes back.
		log.Warn("CoinGecko API is not reachable", zap.Error(err))
	} else {
		log.Info("Successfully connected to CoinGecko API.")
	}

	// Catalog store
	var persister catalog.Persister
	switch cfg.Catalog.Store {
	case "db":
		persister = catalog.NewDBStore(db)
	default:
		persister = catalog.NewFileStore(cfg.Catalog.Path)
	}
	catalogStore := catalog.NewStore(restClient, persister, log)
	if err := catalogStore.Load(ctx); err != nil {
		log.Warn("Failed to load stored catalog, it will be fetched on first lookup", zap.Error(err))
	}

	// Quote cache
	cache, closeCache := quotecache.Open(ctx, cfg.Cache.Driver, &cfg.Redis, log)
	defer closeCache()
	log.Info("Quote cache ready", zap.String("driver", cfg.Cache.Driver))

	// Audit recorder
	auditStore := audit.NewStore(db)
	var recorder audit.Recorder = auditStore
	if cfg.Kafka.Enabled {
		mirror := audit.NewKafkaMirror(auditStore, audit.NewKafkaWriter(&cfg.Kafka), log)
		defer mirror.Close()
		recorder = mirror
		log.Info("Mirroring quote records to kafka", zap.String("topic", cfg.Kafka.Topic))
	}

	coordinator := lookup.NewCoordinator(catalogStore, cache, restClient, recorder, lookup.Settings{
		TTL:         time.Duration(cfg.Cache.TTL) * time.Second,
		CallTimeout: time.Duration(cfg.Lookup.CallTimeout) * time.Second,
	}, log)

	handler := api.NewHandler(coordinator, catalogStore, auditStore, cache, log)
	server := api.NewServer(cfg.Server.Port, api.NewRouter(handler, log), log)
	server.Start()

	go catalogStore.RunRefresher(ctx, time.Duration(cfg.Catalog.RefreshInterval)*time.Second)

	<-ctx.Done()
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}

	log.Info("Proxy has been shut down.")
}
