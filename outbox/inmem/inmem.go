// Package inmem implements the outbox store in process memory. It is
// intended for tests and embedded single-process use; nothing survives
// a restart.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/enverbisevac/eventbox/outbox"
)

// Config holds the configuration for the in-memory outbox store.
type Config struct {
	MaxAttempts int
	BackoffBase int
	BackoffMax  time.Duration
	Now         func() time.Time
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

// WithNow replaces the clock. Tests use it to step through backoff
// windows without sleeping.
func WithNow(now func() time.Time) Option {
	return OptionFunc(func(c *Config) {
		if now != nil {
			c.Now = now
		}
	})
}

var _ outbox.Store = (*Store)(nil)

// Store implements outbox.Store in memory. The claim is a
// compare-and-swap under one mutex, so concurrent DequeueBatch callers
// never receive the same message.
type Store struct {
	config  Config
	mu      sync.Mutex
	msgs    map[uuid.UUID]*outbox.Message
	claimed map[uuid.UUID]time.Time
}

// New creates an empty in-memory outbox store.
func New(options ...Option) *Store {
	config := Config{
		MaxAttempts: 5,
		BackoffBase: 2,
		BackoffMax:  15 * time.Minute,
		Now:         time.Now,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Store{
		config:  config,
		msgs:    make(map[uuid.UUID]*outbox.Message),
		claimed: make(map[uuid.UUID]time.Time),
	}
}

// Enqueue persists a new pending message. The in-memory store has no
// transactions; tx must be nil.
func (s *Store) Enqueue(_ context.Context, tx any, ownerID int64, eventType string, payload outbox.Document) (uuid.UUID, error) {
	if tx != nil {
		return uuid.Nil, fmt.Errorf("outbox: unsupported tx type %T", tx)
	}

	msg, err := outbox.NewMessage(ownerID, eventType, payload)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	msg.AvailableAt = now
	msg.CreatedAt = now
	s.msgs[msg.ID] = &msg
	return msg.ID, nil
}

// DequeueBatch claims up to limit ready messages, oldest available first.
func (s *Store) DequeueBatch(_ context.Context, limit int, opts ...outbox.DequeueOption) ([]outbox.Message, error) {
	var config outbox.DequeueConfig
	for _, opt := range opts {
		opt.Apply(&config)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	var ready []*outbox.Message
	for _, msg := range s.msgs {
		if !msg.Status.Claimable() || msg.AvailableAt.After(now) {
			continue
		}
		if config.OwnerID != nil && msg.OwnerID != *config.OwnerID {
			continue
		}
		ready = append(ready, msg)
	}

	slices.SortFunc(ready, func(a, b *outbox.Message) int {
		return a.AvailableAt.Compare(b.AvailableAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}

	claimed := make([]outbox.Message, 0, len(ready))
	for _, msg := range ready {
		msg.Status = outbox.StatusSending
		s.claimed[msg.ID] = now
		claimed = append(claimed, *msg)
	}
	return claimed, nil
}

// MarkSent transitions sending messages to sent. Already-sent ids are
// left untouched, so repeat calls are no-ops.
func (s *Store) MarkSent(_ context.Context, ids ...uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		msg, ok := s.msgs[id]
		if !ok || (msg.Status != outbox.StatusSending && msg.Status != outbox.StatusSent) {
			continue
		}
		msg.Status = outbox.StatusSent
		delete(s.claimed, id)
	}
	return nil
}

// MarkFailed increments attempts and schedules the retry, or
// dead-letters the message once attempts are exhausted.
func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[id]
	if !ok || msg.Status != outbox.StatusSending {
		return outbox.ErrNotFound
	}

	if cause != nil {
		msg.LastError = cause.Error()
	} else {
		msg.LastError = ""
	}
	delete(s.claimed, id)

	if msg.Attempts >= s.config.MaxAttempts {
		msg.Attempts++
		msg.Status = outbox.StatusDead
		return nil
	}

	msg.Attempts++
	msg.Status = outbox.StatusPending
	msg.AvailableAt = s.config.Now().Add(
		outbox.RetryDelay(s.config.BackoffBase, msg.Attempts, s.config.BackoffMax))
	return nil
}

// ListDead returns dead-lettered messages, oldest first.
func (s *Store) ListDead(_ context.Context, limit int) ([]outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []outbox.Message
	for _, msg := range s.msgs {
		if msg.Status == outbox.StatusDead {
			dead = append(dead, *msg)
		}
	}
	slices.SortFunc(dead, func(a, b outbox.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

// Requeue resets a dead message to pending, available immediately.
func (s *Store) Requeue(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[id]
	if !ok || msg.Status != outbox.StatusDead {
		return outbox.ErrNotFound
	}
	msg.Status = outbox.StatusPending
	msg.AvailableAt = s.config.Now()
	return nil
}

// ReclaimStale resets sending messages whose claim is older than
// olderThan back to pending.
func (s *Store) ReclaimStale(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.config.Now().Add(-olderThan)
	var n int64
	for id, at := range s.claimed {
		if !at.Before(cutoff) {
			continue
		}
		msg, ok := s.msgs[id]
		if !ok || msg.Status != outbox.StatusSending {
			delete(s.claimed, id)
			continue
		}
		msg.Status = outbox.StatusPending
		delete(s.claimed, id)
		n++
	}
	return n, nil
}

// Get returns a copy of the message with the given id. Tests use it to
// observe state transitions.
func (s *Store) Get(id uuid.UUID) (outbox.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[id]
	if !ok {
		return outbox.Message{}, false
	}
	return *msg, true
}
