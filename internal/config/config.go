// Package config loads service settings from environment variables with
// defaults and validates them on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Store drivers accepted by DB_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Cache    CacheConfig
	Notify   NotifyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 15m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"15m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-ingest requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds row store settings.
type DatabaseConfig struct {
	// Driver selects the row store: postgres or memory (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate creates missing tables at startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// IngestConfig holds sheet ingestion settings.
type IngestConfig struct {
	// MaxBodySize is the maximum request body in bytes (default: 50MB)
	MaxBodySize int64 `env:"INGEST_MAX_BODY_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel ingestions (default: 5)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an ingestion slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single ingestion (default: 10m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`

	// SkipKeyword drops rows whose description contains it; empty disables (default: alarm)
	SkipKeyword string `env:"INGEST_SKIP_KEYWORD" default:"alarm"`

	// HistoryRetention is how long batch records are kept; 0 keeps them forever (default: 90 days)
	HistoryRetention time.Duration `env:"INGEST_HISTORY_RETENTION" default:"2160h"`

	// HistoryPruneInterval is how often old batch records are deleted (default: 24h)
	HistoryPruneInterval time.Duration `env:"INGEST_HISTORY_PRUNE_INTERVAL" default:"24h"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// IngestLimit is requests per minute for ingestion endpoints (default: 10)
	IngestLimit int `env:"RATE_LIMIT_INGEST" envAlt:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// CacheConfig holds the Redis bundle cache settings.
type CacheConfig struct {
	// Enabled turns on the bundle cache (default: false)
	Enabled bool `env:"CACHE_ENABLED" default:"false"`

	// Addr is the Redis host:port (default: localhost:6379)
	Addr string `env:"REDIS_ADDR" default:"localhost:6379"`

	// Password is the Redis password
	Password string `env:"REDIS_PASSWORD"`

	// DB is the Redis database number (default: 0)
	DB int `env:"REDIS_DB" default:"0"`

	// TTL bounds how long a cached bundle list lives (default: 5m)
	TTL time.Duration `env:"CACHE_TTL" default:"5m"`

	// Prefix namespaces cache keys (default: helios:bundles)
	Prefix string `env:"CACHE_PREFIX" default:"helios:bundles"`
}

// NotifyConfig holds the MQTT change notifier settings.
type NotifyConfig struct {
	// Enabled turns on change notifications (default: false)
	Enabled bool `env:"NOTIFY_ENABLED" default:"false"`

	// Broker is the MQTT broker URL (default: tcp://localhost:1883)
	Broker string `env:"MQTT_BROKER" default:"tcp://localhost:1883"`

	// ClientID identifies this service to the broker (default: helios)
	ClientID string `env:"MQTT_CLIENT_ID" default:"helios"`

	Username string `env:"MQTT_USERNAME"`
	Password string `env:"MQTT_PASSWORD"`

	// TopicPrefix is prepended to every event topic (default: helios)
	TopicPrefix string `env:"MQTT_TOPIC_PREFIX" default:"helios"`

	// QoS is the publish quality of service, 0-2 (default: 1)
	QoS int `env:"MQTT_QOS" default:"1"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
