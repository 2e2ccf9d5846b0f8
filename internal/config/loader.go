package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CREATORMARKET_"

// Load reads a TOML (or, for .yaml/.yml files, YAML) configuration file at
// path, merges it on top of the built-in defaults, applies CREATORMARKET_*
// environment variable overrides, and returns the final Config. An empty
// path skips the file. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}
	return nil
}

// applyEnvOverrides reads well-known CREATORMARKET_* environment variables
// and overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the config file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Admin, "ADMIN")

	// ── Engine ──
	setUint64(&cfg.Engine.FeePercent, "ENGINE_FEE_PERCENT")
	setDuration(&cfg.Engine.PriceUpdateInterval, "ENGINE_PRICE_UPDATE_INTERVAL")
	setDuration(&cfg.Engine.CooldownDuration, "ENGINE_COOLDOWN_DURATION")
	setUint64(&cfg.Engine.ReportThresholdPercent, "ENGINE_REPORT_THRESHOLD_PERCENT")
	setInt(&cfg.Engine.MinReports, "ENGINE_MIN_REPORTS")
	setBool(&cfg.Engine.GrantOnRegister, "ENGINE_GRANT_ON_REGISTER")
	setInt(&cfg.Engine.EventRetention, "ENGINE_EVENT_RETENTION")

	// ── Auth ──
	setStr(&cfg.Auth.Domain, "AUTH_DOMAIN")
	setUint64(&cfg.Auth.ChainID, "AUTH_CHAIN_ID")
	setDuration(&cfg.Auth.MaxAge, "AUTH_MAX_AGE")
	setDuration(&cfg.Auth.Skew, "AUTH_SKEW")
	setBool(&cfg.Auth.SingleUse, "AUTH_SINGLE_USE")
	setBool(&cfg.Auth.TrustCallerHeader, "AUTH_TRUST_CALLER_HEADER")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LeaseTTL, "REDIS_LEASE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setStr(&cfg.S3.KeyPrefix, "S3_KEY_PREFIX")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	setStringSlice(&cfg.Kafka.Kinds, "KAFKA_KINDS")

	// ── Server ──
	setStr(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Snapshot / archive ──
	setDuration(&cfg.Snapshot.Interval, "SNAPSHOT_INTERVAL")
	setInt(&cfg.Snapshot.Keep, "SNAPSHOT_KEEP")
	setBool(&cfg.Snapshot.Backup, "SNAPSHOT_BACKUP")
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setBool(&cfg.Archive.Prune, "ARCHIVE_PRUNE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. Keys are given without EnvPrefix.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
