package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Outbox backend selectors.
const (
	BackendPostgres = "postgres"
	BackendRPC      = "rpc"
)

type Config struct {
	// Shared worker/api credential for the dispatch endpoint.
	PulseAPIKey string `env:"PULSE_API_KEY,required=true"`

	// Dispatch service.
	APIPort            int    `env:"API_PORT,default=3200"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
	DefaultCountryCode string `env:"DEFAULT_COUNTRY_CODE,default=+221"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=30"`
	WebhookProviderURL string `env:"WEBHOOK_PROVIDER_URL"`
	PushTimeoutMS      int    `env:"PUSH_TIMEOUT_MS,default=3000"`

	// Queue backend.
	OutboxBackend       string `env:"OUTBOX_BACKEND,default=postgres"`
	DatabaseDSN         string `env:"DATABASE_DSN"`
	OutboxRPCURL        string `env:"OUTBOX_RPC_URL"`
	OutboxRPCKey        string `env:"OUTBOX_RPC_KEY"`
	VisibilityTimeoutMS int    `env:"VISIBILITY_TIMEOUT_MS,default=60000"`
	MaxAttempts         int    `env:"MAX_ATTEMPTS,default=5"`

	// Worker.
	PulseAPIBase         string `env:"PULSE_API_BASE,default=http://127.0.0.1:3200"`
	WorkerName           string `env:"WORKER_NAME,default=pulse-worker-1"`
	WorkerBatch          int    `env:"WORKER_BATCH,default=10"`
	WorkerIntervalMS     int    `env:"WORKER_INTERVAL_MS,default=1500"`
	WorkerErrorBackoffMS int    `env:"WORKER_ERROR_BACKOFF_MS,default=3000"`
	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY,default=1"`
	DispatchTimeoutMS    int    `env:"DISPATCH_TIMEOUT_MS,default=15000"`
	WorkerMetricsPort    int    `env:"WORKER_METRICS_PORT,default=3201"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.OutboxBackend = strings.ToLower(strings.TrimSpace(cfg.OutboxBackend))
	switch cfg.OutboxBackend {
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseDSN) == "" {
			return nil, fmt.Errorf("DATABASE_DSN is required when OUTBOX_BACKEND=postgres")
		}
	case BackendRPC:
		if strings.TrimSpace(cfg.OutboxRPCURL) == "" {
			return nil, fmt.Errorf("OUTBOX_RPC_URL is required when OUTBOX_BACKEND=rpc")
		}
		if strings.TrimSpace(cfg.OutboxRPCKey) == "" {
			return nil, fmt.Errorf("OUTBOX_RPC_KEY is required when OUTBOX_BACKEND=rpc")
		}
	default:
		return nil, fmt.Errorf("invalid OUTBOX_BACKEND %q: must be postgres or rpc", cfg.OutboxBackend)
	}

	if strings.TrimSpace(cfg.PulseAPIBase) == "" {
		return nil, fmt.Errorf("PULSE_API_BASE must not be empty")
	}

	return &cfg, nil
}

func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.PushTimeoutMS) * time.Millisecond
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.WorkerIntervalMS) * time.Millisecond
}

func (c *Config) WorkerErrorBackoff() time.Duration {
	return time.Duration(c.WorkerErrorBackoffMS) * time.Millisecond
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMS) * time.Millisecond
}

func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutMS) * time.Millisecond
}
