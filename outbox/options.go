package outbox

import "time"

// Config holds the configuration for the Dispatcher.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	OwnerID      *int64
	ClaimTimeout time.Duration
}

// An Option configures a Dispatcher instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a Dispatcher config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithPollInterval sets how long the dispatcher sleeps after an empty poll.
func WithPollInterval(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.PollInterval = d
	})
}

// WithBatchSize sets the maximum number of messages claimed per poll cycle.
func WithBatchSize(n int) Option {
	return OptionFunc(func(c *Config) {
		c.BatchSize = n
	})
}

// WithOwner restricts the dispatcher to one owner's messages.
func WithOwner(id int64) Option {
	return OptionFunc(func(c *Config) {
		c.OwnerID = &id
	})
}

// WithClaimTimeout sets the duration after which a sending message
// abandoned by a crashed dispatcher is reclaimed. Zero disables
// reclaiming.
func WithClaimTimeout(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.ClaimTimeout = d
	})
}
