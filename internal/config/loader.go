package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // keep original if env var not set
	})
}

// validate checks configuration for errors.
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	if cfg.Queue.QueueEnabled() {
		if cfg.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when the queue is enabled")
		}
		for _, k := range []struct{ name, val string }{
			{"queue.ready_key", cfg.Queue.ReadyKey},
			{"queue.delayed_key", cfg.Queue.DelayedKey},
			{"queue.dlq_key", cfg.Queue.DLQKey},
		} {
			if k.val == "" {
				return fmt.Errorf("%s is required", k.name)
			}
		}
	}

	if cfg.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("ingestion.batch_size must be positive")
	}
	if cfg.Ingestion.MaxRetries < 0 {
		return fmt.Errorf("ingestion.max_retries must not be negative")
	}

	if cfg.LiveState.TTLSeconds <= 0 {
		return fmt.Errorf("live_state.ttl_seconds must be positive")
	}
	if cfg.LiveState.MaxEntries <= 0 {
		return fmt.Errorf("live_state.max_entries must be positive")
	}

	if cfg.Query.RecentContactThresholdSeconds <= 0 {
		return fmt.Errorf("query.recent_contact_threshold_seconds must be positive")
	}

	if cfg.Webhooks.WebhooksEnabled() {
		if cfg.Webhooks.MaxAttempts <= 0 {
			return fmt.Errorf("webhooks.max_attempts must be positive")
		}
		if cfg.Webhooks.BackoffMs <= 0 {
			return fmt.Errorf("webhooks.backoff_ms must be positive")
		}
		if cfg.Webhooks.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("webhooks.circuit_breaker.failure_threshold must be positive")
		}
		if cfg.Webhooks.CircuitBreaker.ResetSeconds <= 0 {
			return fmt.Errorf("webhooks.circuit_breaker.reset_seconds must be positive")
		}
	}

	if cfg.Scanner.Enabled && cfg.Scanner.RequestsPerSec <= 0 {
		return fmt.Errorf("scanner.requests_per_sec must be positive")
	}

	return nil
}
