package outbox

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/enverbisevac/eventbox/dedup"
)

// EventSink receives a dispatched event. *bus.Bus satisfies it.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload map[string]any, externalID string) error
}

// AdapterConfig holds the configuration for the BusAdapter.
type AdapterConfig struct {
	Deduper         dedup.Deduper
	DispatchTimeout time.Duration
}

// An AdapterOption configures a BusAdapter instance.
type AdapterOption interface {
	Apply(*AdapterConfig)
}

// AdapterOptionFunc is a function that configures an adapter config.
type AdapterOptionFunc func(*AdapterConfig)

// Apply calls f(config).
func (f AdapterOptionFunc) Apply(config *AdapterConfig) {
	f(config)
}

// WithDeduper replaces the default in-memory deduper.
func WithDeduper(d dedup.Deduper) AdapterOption {
	return AdapterOptionFunc(func(c *AdapterConfig) {
		if d != nil {
			c.Deduper = d
		}
	})
}

// WithDispatchTimeout bounds the synchronous consumer execution of a
// single dispatch. A timeout is a dispatch failure. Zero disables the
// bound.
func WithDispatchTimeout(d time.Duration) AdapterOption {
	return AdapterOptionFunc(func(c *AdapterConfig) {
		c.DispatchTimeout = d
	})
}

var _ Publisher = (*BusAdapter)(nil)

// BusAdapter wraps an EventSink to satisfy the outbox.Publisher
// interface. It assigns each message its deterministic external id and
// skips ids that were already delivered, so a dispatcher that crashed
// after publish but before MarkSent cannot double-deliver.
type BusAdapter struct {
	sink   EventSink
	config AdapterConfig
}

// NewBusAdapter creates a new BusAdapter.
func NewBusAdapter(sink EventSink, options ...AdapterOption) *BusAdapter {
	config := AdapterConfig{
		Deduper: dedup.NewInMemory(),
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &BusAdapter{
		sink:   sink,
		config: config,
	}
}

// Dispatch publishes msg to the sink unless its external id was already
// delivered, in which case it reports success immediately.
func (a *BusAdapter) Dispatch(ctx context.Context, msg Message) error {
	log := logr.FromContextOrDiscard(ctx)
	extID := msg.ExternalID()

	seen, err := a.config.Deduper.Seen(ctx, extID)
	if err != nil {
		// A broken deduper must not block delivery; at-least-once wins.
		log.Error(err, "outbox: dedup check", "externalID", extID)
	} else if seen {
		log.V(1).Info("outbox: skipping duplicate delivery", "externalID", extID)
		return nil
	}

	pubCtx := ctx
	if a.config.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, a.config.DispatchTimeout)
		defer cancel()
	}

	if err := a.sink.Publish(pubCtx, msg.EventType, map[string]any(msg.Payload), extID); err != nil {
		return err
	}

	if err := a.config.Deduper.Mark(ctx, extID); err != nil {
		log.Error(err, "outbox: dedup mark", "externalID", extID)
	}
	return nil
}
