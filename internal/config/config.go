// Package config loads chatd settings from an optional TOML file overlaid by
// CHATD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `toml:"database_url" env:"CHATD_DATABASE_URL"` // required
	GRPCAddr    string `toml:"grpc_addr"    env:"CHATD_GRPC_ADDR"`    // default ":9090"
	HTTPAddr    string `toml:"http_addr"    env:"CHATD_HTTP_ADDR"`    // default ":8080"
	AuthToken   string `toml:"auth_token"   env:"CHATD_AUTH_TOKEN"`   // empty = auth disabled

	// CORSOrigins lists browser origins allowed to call the HTTP API,
	// comma-separated in the environment. Empty disables CORS.
	CORSOrigins []string `toml:"cors_origins" env:"CHATD_CORS_ORIGINS" envSeparator:","`

	// Broker settings. An empty NATSURL disables publishing.
	NATSURL         string        `toml:"nats_url"         env:"CHATD_NATS_URL"`
	EventsExchange  string        `toml:"events_exchange"  env:"CHATD_EVENTS_EXCHANGE"`  // default "chat.events"
	UpdatesExchange string        `toml:"updates_exchange" env:"CHATD_UPDATES_EXCHANGE"` // default "chat.updates"
	UpdatesTTL      time.Duration `toml:"updates_ttl"      env:"CHATD_UPDATES_TTL"`      // default 24h

	// BatchTTL is the idle lifetime of a counter batching context.
	BatchTTL time.Duration `toml:"batch_ttl" env:"CHATD_BATCH_TTL"` // default 5m

	// Archive settings
	ArchiveInterval   time.Duration `toml:"archive_interval"    env:"CHATD_ARCHIVE_INTERVAL"`    // default 10m; 0 = disabled
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket"   env:"CHATD_ARCHIVE_S3_BUCKET"`   // enables the archive when set
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint" env:"CHATD_ARCHIVE_S3_ENDPOINT"` // custom endpoint for MinIO
	ArchiveS3Region   string        `toml:"archive_s3_region"   env:"CHATD_ARCHIVE_S3_REGION"`   // default "us-east-1"
	ArchiveS3Prefix   string        `toml:"archive_s3_prefix"   env:"CHATD_ARCHIVE_S3_PREFIX"`   // default "chatd/events"

	OTelEndpoint string `toml:"otel_endpoint" env:"CHATD_OTEL_ENDPOINT"` // empty = tracing disabled
}

// Defaults returns a Config with every optional field at its default.
func Defaults() *Config {
	return &Config{
		GRPCAddr:        ":9090",
		HTTPAddr:        ":8080",
		EventsExchange:  "chat.events",
		UpdatesExchange: "chat.updates",
		UpdatesTTL:      24 * time.Hour,
		BatchTTL:        5 * time.Minute,
		ArchiveInterval: 10 * time.Minute,
		ArchiveS3Region: "us-east-1",
		ArchiveS3Prefix: "chatd/events",
	}
}

// Load builds the configuration: defaults, then the TOML file named by
// CHATD_CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	c := Defaults()

	if path := os.Getenv("CHATD_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("CHATD_DATABASE_URL is required")
	}
	if c.UpdatesTTL < 0 {
		return fmt.Errorf("CHATD_UPDATES_TTL must not be negative, got %v", c.UpdatesTTL)
	}
	if c.BatchTTL <= 0 {
		return fmt.Errorf("CHATD_BATCH_TTL must be positive, got %v", c.BatchTTL)
	}
	if c.ArchiveInterval < 0 {
		return fmt.Errorf("CHATD_ARCHIVE_INTERVAL must not be negative, got %v", c.ArchiveInterval)
	}
	return nil
}
