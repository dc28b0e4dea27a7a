package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Dispatcher polls the Store for ready messages and pushes each through
// a Publisher, reporting the outcome back to the Store. Any number of
// Dispatcher instances may run against the same store with no
// coordination beyond the store's own claim locking.
type Dispatcher struct {
	store  Store
	pub    Publisher
	config Config

	once        sync.Once
	cancel      context.CancelFunc
	done        chan struct{}
	lastReclaim time.Time
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store Store, pub Publisher, options ...Option) *Dispatcher {
	config := Config{
		PollInterval: time.Second,
		BatchSize:    100,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Dispatcher{
		store:  store,
		pub:    pub,
		config: config,
	}
}

// Start begins polling for ready messages. Safe to call multiple times;
// only the first call starts the loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.once.Do(func() {
		ctx, d.cancel = context.WithCancel(ctx)
		d.done = make(chan struct{})
		go d.run(ctx)
	})
}

// Stop cancels the dispatcher and waits for the current batch to finish.
// Stop must happen after Start returns, never concurrently with it: the
// lifecycle is start once, then stop once. Stopping a dispatcher that
// was never started is a no-op.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	log := logr.FromContextOrDiscard(ctx)
	timer := time.NewTimer(d.config.PollInterval)
	defer timer.Stop()

	for {
		claimed := d.poll(ctx, log)
		if ctx.Err() != nil {
			return
		}
		// A full-empty poll means nothing is ready: sleep. Otherwise
		// poll again immediately to drain the backlog.
		if claimed > 0 {
			continue
		}

		timer.Reset(d.config.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context, log logr.Logger) int {
	d.maybeReclaim(ctx, log)

	var opts []DequeueOption
	if d.config.OwnerID != nil {
		opts = append(opts, ForOwner(*d.config.OwnerID))
	}

	msgs, err := d.store.DequeueBatch(ctx, d.config.BatchSize, opts...)
	if err != nil {
		log.Error(err, "outbox: dequeue batch")
		return 0
	}

	if len(msgs) == 0 {
		return 0
	}

	var sent []uuid.UUID
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		if err := d.pub.Dispatch(ctx, msg); err != nil {
			log.Error(err, "outbox: dispatch failed",
				"id", msg.ID, "eventType", msg.EventType, "attempts", msg.Attempts)
			if markErr := d.store.MarkFailed(ctx, msg.ID, err); markErr != nil {
				log.Error(markErr, "outbox: mark failed", "id", msg.ID)
			}
			continue
		}
		sent = append(sent, msg.ID)
	}

	if len(sent) > 0 {
		if err := d.store.MarkSent(ctx, sent...); err != nil {
			log.Error(err, "outbox: mark sent")
		}
	}

	return len(msgs)
}

// maybeReclaim rescues messages stuck in sending after a dispatcher
// crash. Runs at most once per claim timeout, which is also the age a
// claim must reach before it is considered abandoned.
func (d *Dispatcher) maybeReclaim(ctx context.Context, log logr.Logger) {
	if d.config.ClaimTimeout <= 0 {
		return
	}
	if time.Since(d.lastReclaim) < d.config.ClaimTimeout {
		return
	}
	d.lastReclaim = time.Now()

	n, err := d.store.ReclaimStale(ctx, d.config.ClaimTimeout)
	if err != nil {
		log.Error(err, "outbox: reclaim stale")
		return
	}
	if n > 0 {
		log.Info("outbox: reclaimed stale claims", "count", n)
	}
}
