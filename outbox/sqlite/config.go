package sqlite

import "time"

// Config holds the configuration for the SQLite outbox store.
type Config struct {
	TableName   string
	MaxAttempts int
	BackoffBase int
	BackoffMax  time.Duration
}

// An Option configures a Store instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a Store config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithTableName sets the outbox table name.
func WithTableName(s string) Option {
	return OptionFunc(func(c *Config) {
		if s != "" {
			c.TableName = s
		}
	})
}

// WithMaxAttempts sets the number of failed attempts after which a
// message is dead-lettered.
func WithMaxAttempts(n int) Option {
	return OptionFunc(func(c *Config) {
		c.MaxAttempts = n
	})
}

// WithBackoffBase sets the base of the exponential retry delay.
func WithBackoffBase(n int) Option {
	return OptionFunc(func(c *Config) {
		c.BackoffBase = n
	})
}

// WithBackoffMax caps the retry delay.
func WithBackoffMax(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.BackoffMax = d
	})
}
