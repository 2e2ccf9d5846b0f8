// Package config defines the top-level configuration for the creator market
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.yaml.in/yaml/v4"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by CREATORMARKET_*
// environment variables.
type Config struct {
	// Admin is the administrator address of the registry, exchange and
	// market.
	Admin    string         `toml:"admin" yaml:"admin"`
	Engine   EngineConfig   `toml:"engine" yaml:"engine"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka" yaml:"kafka"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Snapshot SnapshotConfig `toml:"snapshot" yaml:"snapshot"`
	Archive  ArchiveConfig  `toml:"archive" yaml:"archive"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// EngineConfig holds the market parameters used when no snapshot exists.
// Values restored from a snapshot win.
type EngineConfig struct {
	FeePercent             uint64   `toml:"fee_percent" yaml:"fee_percent"`
	PriceUpdateInterval    duration `toml:"price_update_interval" yaml:"price_update_interval"`
	CooldownDuration       duration `toml:"cooldown_duration" yaml:"cooldown_duration"`
	ReportThresholdPercent uint64   `toml:"report_threshold_percent" yaml:"report_threshold_percent"`
	MinReports             int      `toml:"min_reports" yaml:"min_reports"`
	GrantOnRegister        bool     `toml:"grant_on_register" yaml:"grant_on_register"`
	// EventRetention is how many dispatched events stay in memory for
	// /api/events and websocket catch-up.
	EventRetention int `toml:"event_retention" yaml:"event_retention"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Domain    string   `toml:"domain" yaml:"domain"`
	ChainID   uint64   `toml:"chain_id" yaml:"chain_id"`
	MaxAge    duration `toml:"max_age" yaml:"max_age"`
	Skew      duration `toml:"skew" yaml:"skew"`
	SingleUse bool     `toml:"single_use" yaml:"single_use"`
	// TrustCallerHeader accepts X-Caller-Address without a token. Never
	// enable outside local development.
	TrustCallerHeader bool `toml:"trust_caller_header" yaml:"trust_caller_header"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix" yaml:"key_prefix"`
	// LeaseTTL bounds how long a crashed instance blocks a successor.
	LeaseTTL duration `toml:"lease_ttl" yaml:"lease_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	KeyPrefix      string `toml:"key_prefix" yaml:"key_prefix"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// KafkaConfig configures the downstream event feed.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled" yaml:"enabled"`
	Brokers []string `toml:"brokers" yaml:"brokers"`
	Topic   string   `toml:"topic" yaml:"topic"`
	// Topics routes event kind prefixes to dedicated topics, e.g.
	// "prediction." = "creatormarket.predictions".
	Topics map[string]string `toml:"topics" yaml:"topics"`
	// Kinds restricts publishing to event kinds with one of these prefixes;
	// empty publishes everything.
	Kinds []string `toml:"kinds" yaml:"kinds"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Host             string   `toml:"host" yaml:"host"`
	Port             int      `toml:"port" yaml:"port"`
	CORSOrigins      []string `toml:"cors_origins" yaml:"cors_origins"`
	RateLimit        int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow       duration `toml:"rate_window" yaml:"rate_window"`
	MetricsNamespace string   `toml:"metrics_namespace" yaml:"metrics_namespace"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// SnapshotConfig controls periodic engine snapshots.
type SnapshotConfig struct {
	Interval duration `toml:"interval" yaml:"interval"`
	// Keep is how many snapshots the database retains; zero keeps all.
	Keep int `toml:"keep" yaml:"keep"`
	// Backup copies every snapshot to object storage when S3 is enabled.
	Backup bool `toml:"backup" yaml:"backup"`
}

// ArchiveConfig controls event archiving to object storage.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
	Cron          string `toml:"cron" yaml:"cron"`
	// Prune deletes archived rows from the event table.
	Prune bool `toml:"prune" yaml:"prune"`
}

// duration is a wrapper around time.Duration that decodes from strings such
// as "5m" or "30s" in both TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// UnmarshalYAML decodes a YAML scalar duration.
func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: expected a scalar, got %v", value.Tag)
	}
	return d.UnmarshalText([]byte(value.Value))
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			FeePercent:             1,
			PriceUpdateInterval:    duration{time.Hour},
			CooldownDuration:       duration{600 * time.Second},
			ReportThresholdPercent: 7,
			MinReports:             5,
			EventRetention:         10_000,
		},
		Auth: AuthConfig{
			Domain:  "localhost",
			ChainID: 1,
			MaxAge:  duration{15 * time.Minute},
			Skew:    duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "creatormarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "cm:",
			LeaseTTL:   duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "creatormarket",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "creatormarket.events",
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			MetricsNamespace: "creatormarket",
		},
		Snapshot: SnapshotConfig{
			Interval: duration{5 * time.Minute},
			Keep:     48,
			Backup:   true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			Prune:         true,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"server":  true,
	"audit":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// AdminAddress parses Admin.
func (c *Config) AdminAddress() (common.Address, error) {
	if !common.IsHexAddress(c.Admin) {
		return common.Address{}, fmt.Errorf("config: admin %q is not a hex address", c.Admin)
	}
	addr := common.HexToAddress(c.Admin)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("config: admin must not be the zero address")
	}
	return addr, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, audit, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if _, err := c.AdminAddress(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), "config: "))
	}

	// Engine
	if c.Engine.FeePercent > 100 {
		errs = append(errs, "engine: fee_percent must be <= 100")
	}
	if c.Engine.CooldownDuration.Duration < time.Minute {
		errs = append(errs, "engine: cooldown_duration must be >= 1m")
	}
	if c.Engine.ReportThresholdPercent > 50 {
		errs = append(errs, "engine: report_threshold_percent must be <= 50")
	}
	if c.Engine.MinReports < 1 {
		errs = append(errs, "engine: min_reports must be >= 1")
	}
	if c.Engine.PriceUpdateInterval.Duration < 0 {
		errs = append(errs, "engine: price_update_interval must not be negative")
	}

	// Auth
	if c.Auth.MaxAge.Duration <= 0 {
		errs = append(errs, "auth: max_age must be > 0")
	}
	if c.Auth.SingleUse && !c.Redis.Enabled {
		// In-memory nonces only protect a single replica.
		errs = append(errs, "auth: single_use requires redis.enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be >= 1s")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// Server
	if mode == "full" || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Snapshots and archive
	if (mode == "full" || mode == "server") && c.Postgres.Enabled && c.Snapshot.Interval.Duration <= 0 {
		errs = append(errs, "snapshot: interval must be > 0")
	}
	if c.Archive.Enabled || mode == "archive" {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires s3.enabled and postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}
	if mode == "audit" && !c.Postgres.Enabled && !c.S3.Enabled {
		errs = append(errs, "audit: requires postgres.enabled or s3.enabled to load a snapshot")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
