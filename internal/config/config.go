// Package config defines the typed configuration surface and its defaults.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	History   HistoryConfig   `yaml:"history"`
	NATS      NATSConfig      `yaml:"nats"`
	LiveState LiveStateConfig `yaml:"live_state"`
	Queue     QueueConfig     `yaml:"queue"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Query     QueryConfig     `yaml:"query"`
	Providers ProvidersConfig `yaml:"providers"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Feeders   FeedersConfig   `yaml:"feeders"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// RedisConfig configures the shared Redis used by the queue, pub/sub and the
// webhook budget/breaker state.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig configures the priority store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

// HistoryConfig configures the optional ClickHouse analytics mirror of the
// state history.
type HistoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// NATSConfig configures the optional NATS feeder intake.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LiveStateConfig configures the in-process hot cache.
type LiveStateConfig struct {
	Enabled                    *bool `yaml:"enabled"`
	TTLSeconds                 int   `yaml:"ttl_seconds"`
	MaxEntries                 int   `yaml:"max_entries"`
	CleanupIntervalSeconds     int   `yaml:"cleanup_interval_seconds"`
	MinResultsBeforeDBFallback int   `yaml:"min_results_before_db_fallback"`
}

// QueueConfig configures the durable ingestion queue lanes.
type QueueConfig struct {
	Enabled       *bool  `yaml:"enabled"`
	ReadyKey      string `yaml:"ready_key"`
	DelayedKey    string `yaml:"delayed_key"`
	DLQKey        string `yaml:"dlq_key"`
	HighWaterMark int64  `yaml:"high_water_mark"`
}

// IngestionConfig configures the queue workers.
type IngestionConfig struct {
	Workers    int `yaml:"workers"`
	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`
}

// QueryConfig configures the bounds query planner.
type QueryConfig struct {
	RecentContactThresholdSeconds int `yaml:"recent_contact_threshold_seconds"`
	StaleAfterSeconds             int `yaml:"stale_after_seconds"`
}

// ProvidersConfig holds one entry per upstream network.
type ProvidersConfig struct {
	FreeNetwork       ProviderConfig `yaml:"free_network"`
	CommercialNetwork ProviderConfig `yaml:"commercial_network"`
	AeroAPI           ProviderConfig `yaml:"aero_api"`
}

// ProviderConfig configures one upstream provider adapter.
type ProviderConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	Credentials  string        `yaml:"credentials"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	DailyBudget  int           `yaml:"daily_budget"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ScannerConfig configures the CONUS rotation against the free network.
type ScannerConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	RadiusNM       float64 `yaml:"radius_nm"`
}

// WebhooksConfig configures the delivery pipeline.
type WebhooksConfig struct {
	Enabled                      *bool          `yaml:"enabled"`
	MaxAttempts                  int            `yaml:"max_attempts"`
	BackoffMs                    int            `yaml:"backoff_ms"`
	EnforceHTTPS                 *bool          `yaml:"enforce_https"`
	SubscriberRateLimitPerMinute int            `yaml:"subscriber_rate_limit_per_minute"`
	Workers                      int            `yaml:"workers"`
	ReadyKey                     string         `yaml:"ready_key"`
	DelayedKey                   string         `yaml:"delayed_key"`
	DLQKey                       string         `yaml:"dlq_key"`
	HighWaterMark                int64          `yaml:"high_water_mark"`
	CircuitBreaker               CBConfig       `yaml:"circuit_breaker"`
	Broadcast                    BroadcastConfig `yaml:"broadcast"`
}

// CBConfig configures the per-subscriber circuit breaker.
type CBConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	ResetSeconds     int `yaml:"reset_seconds"`
}

// BroadcastConfig configures the WebSocket fan-out batcher.
type BroadcastConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBatch      int           `yaml:"max_batch"`
}

// FeedersConfig maps opaque bearer tokens to feeder identities.
type FeedersConfig struct {
	Tokens map[string]string `yaml:"tokens"` // token -> feeder id
}

// LiveStateEnabled resolves the tri-state enabled flag (default true).
func (c *LiveStateConfig) LiveStateEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// QueueEnabled resolves the tri-state enabled flag (default true).
func (c *QueueConfig) QueueEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// WebhooksEnabled resolves the tri-state enabled flag (default true).
func (c *WebhooksConfig) WebhooksEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HTTPSRequired resolves the enforce_https flag (default true).
func (c *WebhooksConfig) HTTPSRequired() bool {
	return c.EnforceHTTPS == nil || *c.EnforceHTTPS
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 25 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "skytrack",
			User:     "skytrack",
			MaxConns: 10,
		},
		LiveState: LiveStateConfig{
			TTLSeconds:                 120,
			MaxEntries:                 20000,
			CleanupIntervalSeconds:     30,
			MinResultsBeforeDBFallback: 50,
		},
		Queue: QueueConfig{
			ReadyKey:      "queue.ready",
			DelayedKey:    "queue.delayed",
			DLQKey:        "queue.dlq",
			HighWaterMark: 50000,
		},
		Ingestion: IngestionConfig{
			Workers:    4,
			BatchSize:  100,
			MaxRetries: 3,
		},
		Query: QueryConfig{
			RecentContactThresholdSeconds: 1800,
			StaleAfterSeconds:             300,
		},
		Scanner: ScannerConfig{
			RequestsPerSec: 1,
			RadiusNM:       250,
		},
		Webhooks: WebhooksConfig{
			MaxAttempts:                  8,
			BackoffMs:                    1000,
			SubscriberRateLimitPerMinute: 60,
			Workers:                      4,
			ReadyKey:                     "webhook.ready",
			DelayedKey:                   "webhook.delayed",
			DLQKey:                       "webhook.dlq",
			HighWaterMark:                100000,
			CircuitBreaker: CBConfig{
				FailureThreshold: 5,
				ResetSeconds:     300,
			},
			Broadcast: BroadcastConfig{
				FlushInterval: 500 * time.Millisecond,
				MaxBatch:      500,
			},
		},
	}
}
