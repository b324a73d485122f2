package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/Usmaexe/artisanal-moroccan-market/pkg/config"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/database"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/middleware"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/tracing"
)

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the review service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort          int `env:"REVIEW_HTTP_PORT" envDefault:"8011"`
	RequestTimeoutSec int `env:"REVIEW_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`

	// Storage backend: postgres or memory
	Store string `env:"REVIEW_STORE" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"market"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"market_secret"`
	PostgresDB   string `env:"REVIEW_DB_NAME" envDefault:"review_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis caches
	RedisEnabled              bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost                 string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort                 int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword             string `env:"REDIS_PASSWORD"`
	RedisDB                   int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize             int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	CacheTTLSeconds           int    `env:"REVIEW_CACHE_TTL_SECONDS" envDefault:"60"`
	ProductCacheTTLSeconds    int    `env:"PRODUCT_LOOKUP_CACHE_TTL_SECONDS" envDefault:"300"`
	ProductNegCacheTTLSeconds int    `env:"PRODUCT_LOOKUP_NEGATIVE_TTL_SECONDS" envDefault:"30"`

	// Kafka
	KafkaEnabled       bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string   `env:"REVIEW_CONSUMER_GROUP" envDefault:"review-service"`

	// Product catalog. A non-empty seed list replaces the product service.
	ProductServiceURL string   `env:"PRODUCT_SERVICE_URL" envDefault:"http://localhost:8001"`
	SeedProductIDs    []string `env:"REVIEW_SEED_PRODUCT_IDS" envSeparator:","`

	// Identity
	JWTSecret           string `env:"JWT_SECRET"`
	JWTIssuer           string `env:"JWT_ISSUER" envDefault:"user-service"`
	TrustGatewayHeaders bool   `env:"TRUST_GATEWAY_HEADERS" envDefault:"true"`

	// Submission rate limit per client IP. Zero disables it.
	RateLimitRPS   float64 `env:"REVIEW_RATE_LIMIT_RPS" envDefault:"1"`
	RateLimitBurst int     `env:"REVIEW_RATE_LIMIT_BURST" envDefault:"5"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load review config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{StorePostgres, StoreMemory}, c.Store) {
		return fmt.Errorf("REVIEW_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.Store == StorePostgres {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	}
	if !c.StaticCatalog() && c.ProductServiceURL == "" {
		return fmt.Errorf("PRODUCT_SERVICE_URL or REVIEW_SEED_PRODUCT_IDS is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.CacheTTLSeconds < 0 || c.ProductCacheTTLSeconds < 0 || c.ProductNegCacheTTLSeconds < 0 {
		return fmt.Errorf("cache TTLs must not be negative")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("REVIEW_RATE_LIMIT_RPS must not be negative, got %f", c.RateLimitRPS)
	}
	if c.Environment == "production" && c.JWTSecret == "" && !c.TrustGatewayHeaders {
		return fmt.Errorf("JWT_SECRET or TRUST_GATEWAY_HEADERS is required in production")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Postgres returns the connection pool settings.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis client settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		PoolSize: c.RedisPoolSize,
	}
}

// StaticCatalog reports whether product existence is answered from
// SeedProductIDs instead of the product service.
func (c *Config) StaticCatalog() bool {
	return len(c.SeedProductIDs) > 0
}

// Tracing returns the OpenTelemetry settings.
func (c *Config) Tracing(serviceName string) tracing.Config {
	cfg := tracing.DefaultConfig(serviceName)
	cfg.Enabled = c.OTELEnabled
	cfg.OTLPEndpoint = c.OTELEndpoint
	cfg.SampleRate = c.OTELSampleRate
	cfg.Environment = c.Environment
	return cfg
}

// CORS returns the CORS settings.
func (c *Config) CORS() middleware.CORSConfig {
	cfg := middleware.DefaultCORSConfig()
	cfg.AllowedOrigins = c.CORSAllowedOrigins
	return cfg
}

// CacheTTL returns the query result cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ProductCacheTTLs returns the positive and negative product lookup TTLs.
func (c *Config) ProductCacheTTLs() (positive, negative time.Duration) {
	return time.Duration(c.ProductCacheTTLSeconds) * time.Second,
		time.Duration(c.ProductNegCacheTTLSeconds) * time.Second
}

// RequestTimeout returns the per-request handler timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// SlowQueryThreshold returns the slow query logging threshold.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}
