// Package config loads application configuration from a YAML file with
// IX_* environment-variable overrides. Every subsystem (index storage,
// low-memory watcher, Kafka feed, Redis, Postgres, logging, metrics) gets a
// typed struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	LowMemory LowMemoryConfig `yaml:"lowMemory"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds process lifecycle settings.
type ServerConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Storage backends for index rows.
const (
	BackendPebble = "pebble"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// IndexConfig controls where and how index data is kept.
type IndexConfig struct {
	DataDir       string        `yaml:"dataDir"`
	Backend       string        `yaml:"backend"`
	CacheSize     int           `yaml:"cacheSize"`
	MaxDirty      int           `yaml:"maxDirty"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	DebugChecks   bool          `yaml:"debugChecks"`
	Concurrency   int           `yaml:"concurrency"`
}

// LowMemoryConfig sets the heap size that triggers cache release.
type LowMemoryConfig struct {
	HeapThresholdBytes uint64        `yaml:"heapThresholdBytes"`
	PollInterval       time.Duration `yaml:"pollInterval"`
}

// RebuildConfig picks where rebuild requests are recorded: "log" or
// "postgres".
type RebuildConfig struct {
	Sink string `yaml:"sink"`
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

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables the change feed.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

type KafkaTopics struct {
	InputChanges  string `yaml:"inputChanges"`
	IndexModified string `yaml:"indexModified"`
}

// RedisConfig holds Redis connection parameters for the redis backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the HTTP server exposing /metrics and the health
// probes.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
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

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case BackendPebble, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	switch c.Rebuild.Sink {
	case "log", "postgres":
	default:
		return fmt.Errorf("unknown rebuild sink %q", c.Rebuild.Sink)
	}
	if c.Index.Backend == BackendPebble && strings.TrimSpace(c.Index.DataDir) == "" {
		return fmt.Errorf("pebble backend needs index.dataDir")
	}
	if c.Index.FlushInterval <= 0 || c.LowMemory.PollInterval <= 0 {
		return fmt.Errorf("index.flushInterval and lowMemory.pollInterval must be positive")
	}
	if c.Index.Concurrency <= 0 {
		return fmt.Errorf("index.concurrency must be positive, got %d", c.Index.Concurrency)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ShutdownTimeout: 15 * time.Second,
		},
		Index: IndexConfig{
			DataDir:       "./data/index",
			Backend:       BackendPebble,
			CacheSize:     16384,
			MaxDirty:      4096,
			FlushInterval: 10 * time.Second,
			Concurrency:   4,
		},
		LowMemory: LowMemoryConfig{
			HeapThresholdBytes: 512 << 20,
			PollInterval:       5 * time.Second,
		},
		Rebuild: RebuildConfig{Sink: "log"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ixengine",
			User:            "ixengine",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "ixengine-indexer",
			Topics: KafkaTopics{
				InputChanges:  "input-changes",
				IndexModified: "index-modified",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			Timeout:  2 * time.Second,
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

// applyEnvOverrides reads IX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setString("IX_INDEX_DATA_DIR", &cfg.Index.DataDir)
	setString("IX_INDEX_BACKEND", &cfg.Index.Backend)
	setInt("IX_INDEX_CACHE_SIZE", &cfg.Index.CacheSize)
	setInt("IX_INDEX_CONCURRENCY", &cfg.Index.Concurrency)
	if v := os.Getenv("IX_INDEX_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Index.FlushInterval = d
		}
	}
	if v := os.Getenv("IX_INDEX_DEBUG_CHECKS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Index.DebugChecks = b
		}
	}
	if v := os.Getenv("IX_LOWMEM_HEAP_THRESHOLD"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.LowMemory.HeapThresholdBytes = n
		}
	}
	setString("IX_REBUILD_SINK", &cfg.Rebuild.Sink)
	setString("IX_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("IX_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("IX_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("IX_POSTGRES_USER", &cfg.Postgres.User)
	setString("IX_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("IX_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("IX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("IX_REDIS_ADDR", &cfg.Redis.Addr)
	setString("IX_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("IX_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("IX_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("IX_METRICS_PORT", &cfg.Metrics.Port)
}
