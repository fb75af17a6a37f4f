package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Upstream Upstream `mapstructure:"upstream"`
	Catalog  Catalog  `mapstructure:"catalog"`
	Cache    Cache    `mapstructure:"cache"`
	Redis    Redis    `mapstructure:"redis"`
	Database Database `mapstructure:"database"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Lookup   Lookup   `mapstructure:"lookup"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
}

// Upstream holds the configuration for the CoinGecko API.
type Upstream struct {
	BaseURL         string  `mapstructure:"base_url"`
	ApiKey          string  `mapstructure:"api_key"`
	Timeout         int     `mapstructure:"timeout"` // seconds
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	CatalogAttempts int     `mapstructure:"catalog_attempts"`
}

// Catalog holds the configuration for the coin catalog and its durable copy.
type Catalog struct {
	Store           string `mapstructure:"store"` // "file" or "db"
	Path            string `mapstructure:"path"`
	RefreshInterval int    `mapstructure:"refresh_interval"` // seconds, 0 disables
}

// Cache holds the configuration for the quote cache.
type Cache struct {
	Driver string `mapstructure:"driver"` // "redis" or "memory"
	TTL    int    `mapstructure:"ttl"`    // seconds
}

// Redis holds the connection settings for the redis quote cache.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Kafka holds the configuration for mirroring audit records to a topic.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Lookup holds the configuration for the price lookup coordinator.
type Lookup struct {
	CallTimeout int `mapstructure:"call_timeout"` // seconds, applied to every external call
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level    string   `mapstructure:"level"`
	Format   string   `mapstructure:"format"`
	Output   []string `mapstructure:"output"`   // zap output paths, e.g. "stderr" or a file
	Sampling bool     `mapstructure:"sampling"` // drop repeated entries under load
}

// LoadConfig reads configuration from file, a .env file and environment variables.
// A missing config file is not an error; defaults and the environment are used instead.
func LoadConfig(path string) (config Config, err error) {
	// .env only feeds the process environment; real env vars still win.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// COINGECKO_API_KEY is accepted as well.
	if err = v.BindEnv("upstream.api_key", "UPSTREAM_API_KEY", "COINGECKO_API_KEY"); err != nil {
		return
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}

	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.timeout", 10)
	v.SetDefault("upstream.rate_limit", 0.5) // requests per second (demo plan: 30/min)
	v.SetDefault("upstream.rate_limit_burst", 5)
	v.SetDefault("upstream.catalog_attempts", 3)

	v.SetDefault("catalog.store", "file")
	v.SetDefault("catalog.path", "coins.json")
	v.SetDefault("catalog.refresh_interval", 0)

	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.ttl", 300)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.dsn", "quotes.db")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "coin-quotes")

	v.SetDefault("lookup.call_timeout", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", []string{"stderr"})
	v.SetDefault("logger.sampling", false)

	v.SetDefault("server.port", 3000)
}

// Validate rejects settings the services cannot start with.
func (c Config) Validate() error {
	switch c.Catalog.Store {
	case "file", "db":
	default:
		return fmt.Errorf("unknown catalog.store %q", c.Catalog.Store)
	}
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %d", c.Cache.TTL)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers cannot be empty when kafka is enabled")
	}
	return nil
}
