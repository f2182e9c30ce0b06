// Package config loads service settings from environment variables.
// Every field carries its variable name and default in struct tags; Load
// fails fast on missing required values and on invalid combinations.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Ingest   IngestConfig
	Export   ExportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout stays 0 so progress streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-streaming API requests.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DatabaseConfig holds PostgreSQL pool settings.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// EnsureSchema applies schema.sql at startup.
	EnsureSchema bool `env:"DB_ENSURE_SCHEMA" default:"true"`
}

// Storage backends.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// StorageConfig selects where raw supplier files are kept.
type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" default:"local"`

	// Dir is the root directory of the local backend.
	Dir string `env:"STORAGE_DIR" default:"./data/uploads"`

	Bucket string `env:"GCS_BUCKET"`

	// CredentialsFile is a service account JSON key. Empty uses
	// Application Default Credentials.
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`

	// TempDir is where submissions are spooled while hashing.
	TempDir string `env:"UPLOAD_TEMP_DIR"`
}

// RedisConfig configures the optional run progress mirror.
type RedisConfig struct {
	// URL enables the mirror when set, e.g. redis://localhost:6379/0.
	URL    string        `env:"REDIS_URL"`
	Prefix string        `env:"REDIS_PREFIX" default:"pricesync:"`
	TTL    time.Duration `env:"REDIS_PROGRESS_TTL" default:"24h"`

	// LockTTL is the supplier lock lease, refreshed while a run is active.
	LockTTL time.Duration `env:"REDIS_LOCK_TTL" default:"30s"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// IngestConfig tunes ingestion runs.
type IngestConfig struct {
	BatchSize      int           `env:"INGEST_BATCH_SIZE" default:"70"`
	RequestTimeout time.Duration `env:"INGEST_REQUEST_TIMEOUT" default:"140s"`
	RetryBackoff   time.Duration `env:"INGEST_RETRY_BACKOFF" default:"800ms"`

	// EndpointURL points runs at a remote chunk endpoint. Empty processes
	// chunks in-process.
	EndpointURL   string `env:"INGEST_ENDPOINT_URL"`
	EndpointToken string `env:"INGEST_ENDPOINT_TOKEN"`

	MaxConcurrent int           `env:"INGEST_MAX_CONCURRENT" default:"5"`
	MaxWaitTime   time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`
	RunTimeout    time.Duration `env:"INGEST_RUN_TIMEOUT" default:"2h"`
	RunRetention  time.Duration `env:"INGEST_RUN_RETENTION" default:"30m"`

	// MaxFileSize is the upload size limit in bytes (default 100MB).
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// SourceEncoding is the text encoding of supplier files.
	SourceEncoding string `env:"SOURCE_ENCODING" default:"utf-8"`

	PreviewRows int `env:"PREVIEW_ROWS" default:"100"`
}

// ExportConfig configures catalogue exports.
type ExportConfig struct {
	TemplateURL  string `env:"EXPORT_TEMPLATE_URL"`
	TemplatePath string `env:"EXPORT_TEMPLATE_PATH"`

	TemplateTTL     time.Duration `env:"EXPORT_TEMPLATE_TTL" default:"1h"`
	RefreshInterval time.Duration `env:"EXPORT_TEMPLATE_REFRESH" default:"1h"`

	PriceChunkSize int `env:"EXPORT_PRICE_CHUNK_SIZE" default:"400"`

	// Markup is the Tier 1 markup percentage written to every row.
	Markup decimal.Decimal `env:"EXPORT_MARKUP" default:"25"`
}

// RateLimitConfig holds per-IP request limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
	Burst             int  `env:"RATE_LIMIT_BURST" default:"20"`

	// UploadLimit applies to uploads, previews and exports.
	UploadLimit int `env:"RATE_LIMIT_UPLOADS_PER_MINUTE" default:"10"`
}

// SecurityConfig holds proxy trust and API key settings.
type SecurityConfig struct {
	// TrustedProxies lists CIDRs allowed to set X-Real-IP/X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}
