package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Tracker.TopPagesLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Tracker.WriteTimeout)
	assert.Equal(t, "beacon-events", cfg.Kafka.Topics.BeaconEvents)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "@every 1m", cfg.Archive.SnapshotSchedule)
	assert.Equal(t, "umrum_session", cfg.Session.CookieName)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  publicUrl: https://umrum.example
redis:
  addr: redis:6379
tracker:
  workers: 2
  writeTimeout: 250ms
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
session:
  ttl: 12h
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://umrum.example", cfg.Server.PublicURL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Tracker.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.WriteTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	// untouched sections keep their defaults
	assert.Equal(t, 10000, cfg.Tracker.QueueSize)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("UM_SERVER_PORT", "9100")
	t.Setenv("UM_SERVER_PUBLIC_URL", "https://umrum.example/")
	t.Setenv("UM_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("UM_BEACON_RATE_LIMIT", "0")
	t.Setenv("UM_GITHUB_CLIENT_SECRET", "shh")
	t.Setenv("UM_ARCHIVE_SNAPSHOT_SCHEDULE", "@every 5m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "https://umrum.example", cfg.Server.PublicURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Zero(t, cfg.Beacon.RateLimit)
	assert.Equal(t, "shh", cfg.GitHub.ClientSecret)
	assert.Equal(t, "@every 5m", cfg.Archive.SnapshotSchedule)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.Tracker.Workers = 0 }},
		{"no queue", func(c *Config) { c.Tracker.QueueSize = -1 }},
		{"no top pages", func(c *Config) { c.Tracker.TopPagesLimit = 0 }},
		{"no cookie name", func(c *Config) { c.Session.CookieName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "umrum", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=umrum sslmode=disable", p.DSN())
}
