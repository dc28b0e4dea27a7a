// Package redis implements a Redis-backed deduper. It survives process
// restarts, extending duplicate detection across dispatcher instances.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/enverbisevac/eventbox/dedup"
)

var _ dedup.Deduper = (*Deduper)(nil)

// Deduper records delivered external ids as Redis keys with a TTL.
type Deduper struct {
	config Config
	client redis.UniversalClient
}

// New creates a new Redis deduper.
func New(client redis.UniversalClient, options ...Option) *Deduper {
	config := Config{
		KeyPrefix: "outbox:delivered:",
		TTL:       defaultTTL,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Deduper{
		config: config,
		client: client,
	}
}

// Seen reports whether id was marked within the TTL window.
func (d *Deduper) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, d.config.KeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: exists: %w", err)
	}
	return n > 0, nil
}

// Mark records id as delivered.
func (d *Deduper) Mark(ctx context.Context, id string) error {
	if err := d.client.Set(ctx, d.config.KeyPrefix+id, 1, d.config.TTL).Err(); err != nil {
		return fmt.Errorf("dedup: set: %w", err)
	}
	return nil
}
