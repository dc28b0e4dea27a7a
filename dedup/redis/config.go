package redis

import "time"

const defaultTTL = 24 * time.Hour

// Config holds the configuration for the Redis deduper.
type Config struct {
	KeyPrefix string
	TTL       time.Duration
}

// An Option configures a Deduper instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a Deduper config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithKeyPrefix sets the key prefix for delivered ids.
func WithKeyPrefix(s string) Option {
	return OptionFunc(func(c *Config) {
		if s != "" {
			c.KeyPrefix = s
		}
	})
}

// WithTTL sets how long a delivered id is remembered.
func WithTTL(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if d > 0 {
			c.TTL = d
		}
	})
}
