package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the daemon configuration, drawn from environment
// variables. Batch size, poll interval, max attempts, and the backoff
// knobs are the dispatcher's tunable contract; the rest is operational.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	Table       string `envconfig:"OUTBOX_TABLE" default:"outbox_messages"`

	BatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	PollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	MaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"5"`
	BackoffBase  int           `envconfig:"OUTBOX_BACKOFF_BASE" default:"2"`
	BackoffMax   time.Duration `envconfig:"OUTBOX_BACKOFF_MAX" default:"15m"`

	ClaimTimeout    time.Duration `envconfig:"OUTBOX_CLAIM_TIMEOUT" default:"5m"`
	DispatchTimeout time.Duration `envconfig:"OUTBOX_DISPATCH_TIMEOUT" default:"30s"`
	Workers         int           `envconfig:"OUTBOX_WORKERS" default:"1"`

	AdminAddr string `envconfig:"OUTBOX_ADMIN_ADDR" default:":8090"`
	RedisURL  string `envconfig:"OUTBOX_REDIS_URL"`
	Debug     bool   `envconfig:"DEBUG" default:"false"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
