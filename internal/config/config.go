// Package config loads process configuration from environment variables and
// an optional YAML file overlay, following the defaults-then-override
// pattern used throughout the service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls an HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LedgerDBConfig controls the relational Publisher Ledger connection (A).
type LedgerDBConfig struct {
	DSN             string `yaml:"dsn" env:"LEDGER_DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"LEDGER_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"LEDGER_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"LEDGER_DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"LEDGER_DATABASE_MIGRATE_ON_START"`
}

// DocumentDBConfig controls the Queue/Artifact document-style store
// connection (B, C). Kept as a separate pool from the ledger even though
// both speak Postgres.
type DocumentDBConfig struct {
	DSN             string `yaml:"dsn" env:"DOCSTORE_DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DOCSTORE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DOCSTORE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DOCSTORE_DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DOCSTORE_DATABASE_MIGRATE_ON_START"`
}

// RedisConfig controls the Threshold Counter backend (D).
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// CrawlerConfig controls the crawler (E).
type CrawlerConfig struct {
	MaxRedirects      int           `yaml:"max_redirects" env:"CRAWLER_MAX_REDIRECTS"`
	MaxContentBytes   int64         `yaml:"max_content_bytes" env:"CRAWLER_MAX_CONTENT_BYTES"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"CRAWLER_REQUEST_TIMEOUT"`
	MaxRetries        int           `yaml:"max_retries" env:"CRAWLER_MAX_RETRIES"`
	PerHostConcurrent int           `yaml:"per_host_concurrent" env:"CRAWLER_PER_HOST_CONCURRENT"`
	UserAgent         string        `yaml:"user_agent" env:"CRAWLER_USER_AGENT"`
}

// LLMConfig controls orchestrator credentials and limits (F).
type LLMConfig struct {
	AnthropicAPIKey   string `yaml:"-" env:"ANTHROPIC_API_KEY"`
	GoogleAPIKey      string `yaml:"-" env:"GOOGLE_API_KEY"`
	GoogleEmbedModel  string `yaml:"google_embed_model" env:"GOOGLE_EMBED_MODEL"`
	AWSRegion         string `yaml:"aws_region" env:"AWS_REGION"`
	MaxParallelCalls  int    `yaml:"max_parallel_calls" env:"LLM_MAX_PARALLEL_CALLS"`
	RequestTimeoutSec int    `yaml:"request_timeout_seconds" env:"LLM_REQUEST_TIMEOUT_SECONDS"`
}

// WorkerConfig controls the processing pipeline (G).
type WorkerConfig struct {
	PollInterval             time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL"`
	BatchSize                int           `yaml:"batch_size" env:"WORKER_BATCH_SIZE"`
	Concurrency              int           `yaml:"concurrency" env:"WORKER_CONCURRENCY"`
	HeartbeatIntervalSeconds int           `yaml:"heartbeat_interval_seconds" env:"WORKER_HEARTBEAT_INTERVAL_SECONDS"`
	DefaultMaxRetries        int           `yaml:"default_max_retries" env:"WORKER_DEFAULT_MAX_RETRIES"`
	ID                       string        `yaml:"-" env:"WORKER_ID"`
}

// ReaperConfig controls the stall-recovery / orphan-reservation maintenance job.
type ReaperConfig struct {
	Schedule       string        `yaml:"schedule" env:"REAPER_CRON_SCHEDULE"`
	StallMultiple  int           `yaml:"stall_multiple" env:"REAPER_STALL_MULTIPLE"`
	ReservationTTL time.Duration `yaml:"reservation_ttl" env:"REAPER_RESERVATION_TTL"`
}

// AdminConfig controls the admin API.
type AdminConfig struct {
	Key string `yaml:"-" env:"ADMIN_API_KEY"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Ledger   LedgerDBConfig   `yaml:"ledger_database"`
	Document DocumentDBConfig `yaml:"document_database"`
	Redis    RedisConfig      `yaml:"redis"`
	Logging  LoggingConfig    `yaml:"logging"`
	Crawler  CrawlerConfig    `yaml:"crawler"`
	LLM      LLMConfig        `yaml:"llm"`
	Worker   WorkerConfig     `yaml:"worker"`
	Reaper   ReaperConfig     `yaml:"reaper"`
	Admin    AdminConfig      `yaml:"admin"`
}

// New returns a configuration populated with sensible defaults; only
// credentials and the admin key have no default.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Ledger: LedgerDBConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Document: DocumentDBConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379", DB: 0},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Crawler: CrawlerConfig{
			MaxRedirects:      5,
			MaxContentBytes:   5 * 1024 * 1024,
			RequestTimeout:    15 * time.Second,
			MaxRetries:        3,
			PerHostConcurrent: 4,
			UserAgent:         "blog-pipeline-crawler/1.0",
		},
		LLM: LLMConfig{
			GoogleEmbedModel:  "text-embedding-004",
			MaxParallelCalls:  8,
			RequestTimeoutSec: 60,
		},
		Worker: WorkerConfig{
			PollInterval:             5 * time.Second,
			BatchSize:                5,
			Concurrency:              10,
			HeartbeatIntervalSeconds: 15,
			DefaultMaxRetries:        3,
		},
		Reaper: ReaperConfig{
			Schedule:       "*/1 * * * *",
			StallMultiple:  3,
			ReservationTTL: 30 * time.Minute,
		},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// file (CONFIG_FILE or ./configs/config.yaml), and finally environment
// variables, which take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 10
	}
	if c.Worker.BatchSize <= 0 {
		c.Worker.BatchSize = c.Worker.Concurrency
	}
	if c.Worker.BatchSize > c.Worker.Concurrency {
		// The worker never picks more jobs than it can run concurrently; the
		// pool size is the hard cap.
		c.Worker.BatchSize = c.Worker.Concurrency
	}
	if c.Worker.ID == "" {
		host, _ := os.Hostname()
		c.Worker.ID = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}
	if c.Reaper.StallMultiple < 3 {
		c.Reaper.StallMultiple = 3
	}
}
