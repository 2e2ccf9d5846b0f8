package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminHex = "0x00000000000000000000000000000000000000Ad"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
admin = "`+adminHex+`"
mode = "server"

[engine]
fee_percent = 2
cooldown_duration = "15m"

[kafka]
enabled = true
brokers = ["kafka-1:9092", "kafka-2:9092"]

[kafka.topics]
"prediction." = "cm.predictions"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, uint64(2), cfg.Engine.FeePercent)
	assert.Equal(t, 15*time.Minute, cfg.Engine.CooldownDuration.Duration)
	assert.Equal(t, time.Hour, cfg.Engine.PriceUpdateInterval.Duration, "defaults survive")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "cm.predictions", cfg.Kafka.Topics["prediction."])
	require.NoError(t, cfg.Validate())
}

func TestLoadTOMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "config.toml", `
admin = "`+adminHex+`"
[engine]
fee_precent = 2
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.fee_precent")
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
admin: "`+adminHex+`"
log_level: debug
auth:
  domain: creator.market
  max_age: 5m
snapshot:
  interval: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "creator.market", cfg.Auth.Domain)
	assert.Equal(t, 5*time.Minute, cfg.Auth.MaxAge.Duration)
	assert.Equal(t, 30*time.Second, cfg.Snapshot.Interval.Duration)
	assert.Equal(t, uint64(1), cfg.Auth.ChainID)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CREATORMARKET_ADMIN", adminHex)
	t.Setenv("CREATORMARKET_POSTGRES_ENABLED", "true")
	t.Setenv("CREATORMARKET_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("CREATORMARKET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CREATORMARKET_SNAPSHOT_INTERVAL", "90s")
	t.Setenv("CREATORMARKET_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, adminHex, cfg.Admin)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.Snapshot.Interval.Duration)
	assert.Equal(t, 8000, cfg.Server.Port, "malformed values are ignored")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Admin = adminHex
		return cfg
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing admin", func(c *Config) { c.Admin = "" }, "admin"},
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"fee too high", func(c *Config) { c.Engine.FeePercent = 101 }, "fee_percent"},
		{"short cooldown", func(c *Config) { c.Engine.CooldownDuration.Duration = time.Second }, "cooldown_duration"},
		{"threshold cap", func(c *Config) { c.Engine.ReportThresholdPercent = 51 }, "report_threshold_percent"},
		{"single use needs redis", func(c *Config) { c.Auth.SingleUse = true }, "single_use"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "brokers"},
		{"archive needs stores", func(c *Config) { c.Archive.Enabled = true }, "archive"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "sk"
	cfg.Notify.TelegramToken = "tg"
	cfg.Kafka.Topics = map[string]string{"prediction.": "p"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "pw", cfg.Postgres.Password, "original untouched")

	out.Kafka.Topics["exchange."] = "x"
	out.Server.CORSOrigins[0] = "mutated"
	assert.NotContains(t, cfg.Kafka.Topics, "exchange.")
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
