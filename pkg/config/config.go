// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. A .env file in the working directory is
// loaded first so secrets such as the GitHub client secret can stay out of
// version-controlled YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Beacon   BeaconConfig   `yaml:"beacon"`
	GitHub   GitHubConfig   `yaml:"github"`
	Session  SessionConfig  `yaml:"session"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	PublicURL       string        `yaml:"publicUrl"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the tracking store and
// the session store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event mirroring.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	BeaconEvents string `yaml:"beaconEvents"`
}

// TrackerConfig controls the visit tracker's asynchronous write path.
type TrackerConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queueSize"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	TopPagesLimit int           `yaml:"topPagesLimit"`
	BreakerTrip   int           `yaml:"breakerTrip"`
	BreakerReset  time.Duration `yaml:"breakerReset"`
}

// BeaconConfig limits beacon traffic per client IP. A zero RateLimit
// disables limiting. TrustForwardedFor keys the limit on X-Forwarded-For,
// for deployments behind a proxy.
type BeaconConfig struct {
	RateLimit         int           `yaml:"rateLimit"`
	RateWindow        time.Duration `yaml:"rateWindow"`
	TrustForwardedFor bool          `yaml:"trustForwardedFor"`
}

// GitHubConfig holds the OAuth application credentials.
type GitHubConfig struct {
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	CallbackURL  string   `yaml:"callbackUrl"`
	Scopes       []string `yaml:"scopes"`
}

// SessionConfig controls the dashboard session cookie.
type SessionConfig struct {
	CookieName string        `yaml:"cookieName"`
	TTL        time.Duration `yaml:"ttl"`
	Secure     bool          `yaml:"secure"`
}

// ArchiveConfig controls the archiver and the live-count snapshotter.
type ArchiveConfig struct {
	Port              int           `yaml:"port"`
	SnapshotSchedule  string        `yaml:"snapshotSchedule"`
	SnapshotRetention time.Duration `yaml:"snapshotRetention"`
	CollectorBuffer   int           `yaml:"collectorBuffer"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values the services cannot start with.
func (c *Config) Validate() error {
	if c.Tracker.Workers <= 0 {
		return fmt.Errorf("tracker.workers must be positive, got %d", c.Tracker.Workers)
	}
	if c.Tracker.QueueSize <= 0 {
		return fmt.Errorf("tracker.queueSize must be positive, got %d", c.Tracker.QueueSize)
	}
	if c.Tracker.TopPagesLimit <= 0 {
		return fmt.Errorf("tracker.topPagesLimit must be positive, got %d", c.Tracker.TopPagesLimit)
	}
	if c.Session.CookieName == "" {
		return errors.New("session.cookieName is required")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "umrum",
			User:            "umrum",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "umrum-archiver",
			Topics: KafkaTopics{
				BeaconEvents: "beacon-events",
			},
		},
		Tracker: TrackerConfig{
			Workers:       8,
			QueueSize:     10000,
			WriteTimeout:  500 * time.Millisecond,
			TopPagesLimit: 10,
			BreakerTrip:   20,
			BreakerReset:  10 * time.Second,
		},
		Beacon: BeaconConfig{
			RateLimit:  120,
			RateWindow: time.Minute,
		},
		GitHub: GitHubConfig{
			CallbackURL: "http://localhost:8080/auth/github/callback",
			Scopes:      []string{"read:user"},
		},
		Session: SessionConfig{
			CookieName: "umrum_session",
			TTL:        7 * 24 * time.Hour,
		},
		Archive: ArchiveConfig{
			Port:              8081,
			SnapshotSchedule:  "@every 1m",
			SnapshotRetention: 30 * 24 * time.Hour,
			CollectorBuffer:   10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads UM_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("UM_SERVER_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("UM_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("UM_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("UM_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("UM_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("UM_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("UM_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("UM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("UM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("UM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("UM_TRACKER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tracker.Workers = n
		}
	}
	if v := os.Getenv("UM_BEACON_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Beacon.RateLimit = n
		}
	}
	if v := os.Getenv("UM_GITHUB_CLIENT_ID"); v != "" {
		cfg.GitHub.ClientID = v
	}
	if v := os.Getenv("UM_GITHUB_CLIENT_SECRET"); v != "" {
		cfg.GitHub.ClientSecret = v
	}
	if v := os.Getenv("UM_GITHUB_CALLBACK_URL"); v != "" {
		cfg.GitHub.CallbackURL = v
	}
	if v := os.Getenv("UM_SESSION_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Session.Secure = b
		}
	}
	if v := os.Getenv("UM_ARCHIVE_SNAPSHOT_SCHEDULE"); v != "" {
		cfg.Archive.SnapshotSchedule = v
	}
	if v := os.Getenv("UM_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("UM_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
