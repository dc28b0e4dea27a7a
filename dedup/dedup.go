// Package dedup tracks delivered external ids so repeat delivery of the
// same message can be detected and skipped.
package dedup

import (
	"context"
	"sync"
)

// Deduper records which external ids have already been delivered.
// Implementations are best-effort: the outbox never re-returns a sent
// message, so a deduper only has to cover the crash window between
// publish and mark-sent.
type Deduper interface {
	// Seen reports whether id was already delivered.
	Seen(ctx context.Context, id string) (bool, error)

	// Mark records id as delivered.
	Mark(ctx context.Context, id string) error
}

var _ Deduper = (*InMemory)(nil)

// InMemory is a process-local Deduper. It covers a single dispatch
// session and needs no external storage.
type InMemory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewInMemory creates an empty in-memory deduper.
func NewInMemory() *InMemory {
	return &InMemory{
		seen: make(map[string]struct{}),
	}
}

// Seen reports whether id was marked in this process.
func (d *InMemory) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok, nil
}

// Mark records id as delivered.
func (d *InMemory) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = struct{}{}
	return nil
}
