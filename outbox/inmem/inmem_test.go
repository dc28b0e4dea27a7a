package inmem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/enverbisevac/eventbox/outbox"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(opts ...Option) (*Store, *fakeClock) {
	clock := newFakeClock()
	opts = append([]Option{WithNow(clock.Now)}, opts...)
	return New(opts...), clock
}

func TestEnqueueDequeueLifecycle(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, nil, 1, "finance.account.created", outbox.Document{"name": "Savings"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	msg, ok := store.Get(id)
	if !ok {
		t.Fatal("message not stored")
	}
	if msg.Status != outbox.StatusPending {
		t.Errorf("Status = %q, want %q", msg.Status, outbox.StatusPending)
	}
	if msg.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", msg.Attempts)
	}

	claimed, err := store.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d messages, want 1", len(claimed))
	}
	if claimed[0].ID != id {
		t.Errorf("claimed id = %v, want %v", claimed[0].ID, id)
	}
	if claimed[0].Status != outbox.StatusSending {
		t.Errorf("claimed status = %q, want %q", claimed[0].Status, outbox.StatusSending)
	}
	if claimed[0].EventType != "finance.account.created" {
		t.Errorf("claimed event type = %q", claimed[0].EventType)
	}

	// A claimed message is held exclusively until its outcome is marked.
	again, _ := store.DequeueBatch(ctx, 10)
	if len(again) != 0 {
		t.Fatalf("second claim returned %d messages, want 0", len(again))
	}

	if err := store.MarkSent(ctx, id); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	msg, _ = store.Get(id)
	if msg.Status != outbox.StatusSent {
		t.Errorf("Status = %q, want %q", msg.Status, outbox.StatusSent)
	}

	// Sent is terminal; the row is never re-returned.
	again, _ = store.DequeueBatch(ctx, 10)
	if len(again) != 0 {
		t.Fatalf("claim after sent returned %d messages, want 0", len(again))
	}
}

func TestMarkSentIdempotent(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
	if _, err := store.DequeueBatch(ctx, 1); err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	if err := store.MarkSent(ctx, id); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := store.MarkSent(ctx, id); err != nil {
		t.Fatalf("second MarkSent() error = %v", err)
	}

	msg, _ := store.Get(id)
	if msg.Status != outbox.StatusSent {
		t.Errorf("Status = %q, want %q", msg.Status, outbox.StatusSent)
	}
}

func TestBackoffSequenceAndDeadLetter(t *testing.T) {
	store, clock := newTestStore(WithMaxAttempts(5), WithBackoffBase(2))
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, nil, 1, "finance.account.created", outbox.Document{"name": "Savings"})

	wantDelays := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for i, want := range wantDelays {
		claimed, err := store.DequeueBatch(ctx, 10)
		if err != nil {
			t.Fatalf("DequeueBatch() #%d error = %v", i+1, err)
		}
		if len(claimed) != 1 {
			t.Fatalf("claim #%d returned %d messages, want 1", i+1, len(claimed))
		}

		if err := store.MarkFailed(ctx, id, errors.New("boom")); err != nil {
			t.Fatalf("MarkFailed() #%d error = %v", i+1, err)
		}

		msg, _ := store.Get(id)
		if msg.Status != outbox.StatusPending {
			t.Fatalf("failure #%d: Status = %q, want %q", i+1, msg.Status, outbox.StatusPending)
		}
		if msg.Attempts != i+1 {
			t.Errorf("failure #%d: Attempts = %d, want %d", i+1, msg.Attempts, i+1)
		}
		if msg.LastError != "boom" {
			t.Errorf("failure #%d: LastError = %q, want %q", i+1, msg.LastError, "boom")
		}

		delay := msg.AvailableAt.Sub(clock.Now())
		if delay != want {
			t.Errorf("failure #%d: backoff = %v, want %v", i+1, delay, want)
		}

		// The message is invisible until the backoff elapses.
		early, _ := store.DequeueBatch(ctx, 10)
		if len(early) != 0 {
			t.Fatalf("failure #%d: message claimable before backoff elapsed", i+1)
		}
		clock.Advance(want)
	}

	// Sixth failure exhausts the attempt budget.
	claimed, _ := store.DequeueBatch(ctx, 10)
	if len(claimed) != 1 {
		t.Fatalf("final claim returned %d messages, want 1", len(claimed))
	}
	if err := store.MarkFailed(ctx, id, errors.New("boom")); err != nil {
		t.Fatalf("final MarkFailed() error = %v", err)
	}

	msg, _ := store.Get(id)
	if msg.Status != outbox.StatusDead {
		t.Fatalf("Status = %q, want %q", msg.Status, outbox.StatusDead)
	}
	if msg.Attempts != 6 {
		t.Errorf("Attempts = %d, want 6", msg.Attempts)
	}

	// Dead is terminal.
	clock.Advance(time.Hour)
	claimed, _ = store.DequeueBatch(ctx, 10)
	if len(claimed) != 0 {
		t.Fatalf("dead message was claimed")
	}
}

func TestNoDoubleClaim(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := store.Enqueue(ctx, nil, int64(i), "x.y.z", nil); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	results := make([][]outbox.Message, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := store.DequeueBatch(ctx, 5)
			if err != nil {
				t.Errorf("DequeueBatch() error = %v", err)
				return
			}
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	seen := make(map[uuid.UUID]bool)
	total := 0
	for _, claimed := range results {
		for _, msg := range claimed {
			if seen[msg.ID] {
				t.Fatalf("message %v claimed twice", msg.ID)
			}
			seen[msg.ID] = true
			total++
		}
	}
	if total != 7 {
		t.Fatalf("claimed %d messages total, want 7", total)
	}
}

func TestDequeueOrdersByAvailability(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		id, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
		want = append(want, id)
		clock.Advance(time.Second)
	}

	claimed, err := store.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d messages, want 3", len(claimed))
	}
	for i, msg := range claimed {
		if msg.ID != want[i] {
			t.Fatalf("claimed[%d] = %v, want %v (earliest available first)", i, msg.ID, want[i])
		}
	}
}

func TestRetryInterleavesWithFresh(t *testing.T) {
	store, clock := newTestStore(WithBackoffBase(2))
	ctx := context.Background()

	retried, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
	if _, err := store.DequeueBatch(ctx, 1); err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	if err := store.MarkFailed(ctx, retried, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	// A fresh message enqueued during the backoff window is served first:
	// earliest available wins, not insertion order.
	clock.Advance(time.Second)
	fresh, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
	clock.Advance(time.Second)

	claimed, _ := store.DequeueBatch(ctx, 10)
	if len(claimed) != 2 {
		t.Fatalf("claimed %d messages, want 2", len(claimed))
	}
	if claimed[0].ID != fresh {
		t.Fatalf("claimed[0] = %v, want fresh message %v", claimed[0].ID, fresh)
	}
	if claimed[1].ID != retried {
		t.Fatalf("claimed[1] = %v, want retried message %v", claimed[1].ID, retried)
	}
}

func TestOwnerScoping(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	mine, _ := store.Enqueue(ctx, nil, 7, "x.y.z", nil)
	if _, err := store.Enqueue(ctx, nil, 8, "x.y.z", nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := store.DequeueBatch(ctx, 10, outbox.ForOwner(7))
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d messages, want 1", len(claimed))
	}
	if claimed[0].ID != mine {
		t.Fatalf("claimed[0] = %v, want %v", claimed[0].ID, mine)
	}
}

func TestRequeue(t *testing.T) {
	store, clock := newTestStore(WithMaxAttempts(0))
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
	if _, err := store.DequeueBatch(ctx, 1); err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	// With a zero attempt budget the first failure dead-letters.
	if err := store.MarkFailed(ctx, id, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	msg, _ := store.Get(id)
	if msg.Status != outbox.StatusDead {
		t.Fatalf("Status = %q, want %q", msg.Status, outbox.StatusDead)
	}

	if err := store.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}

	msg, _ = store.Get(id)
	if msg.Status != outbox.StatusPending {
		t.Errorf("Status = %q, want %q", msg.Status, outbox.StatusPending)
	}
	if msg.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (attempts never reset)", msg.Attempts)
	}

	clock.Advance(time.Millisecond)
	claimed, _ := store.DequeueBatch(ctx, 10)
	if len(claimed) != 1 {
		t.Fatalf("requeued message not claimable")
	}
}

func TestRequeueNonDead(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
	if err := store.Requeue(ctx, id); !errors.Is(err, outbox.ErrNotFound) {
		t.Fatalf("Requeue() error = %v, want %v", err, outbox.ErrNotFound)
	}
	if err := store.Requeue(ctx, uuid.New()); !errors.Is(err, outbox.ErrNotFound) {
		t.Fatalf("Requeue() error = %v, want %v", err, outbox.ErrNotFound)
	}
}

func TestReclaimStale(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
	if _, err := store.DequeueBatch(ctx, 1); err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	// A fresh claim is not reclaimed.
	n, err := store.ReclaimStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed %d messages, want 0", n)
	}

	clock.Advance(2 * time.Minute)
	n, err = store.ReclaimStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d messages, want 1", n)
	}

	msg, _ := store.Get(id)
	if msg.Status != outbox.StatusPending {
		t.Errorf("Status = %q, want %q", msg.Status, outbox.StatusPending)
	}
	if msg.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 (reclaim is not a failure)", msg.Attempts)
	}

	claimed, _ := store.DequeueBatch(ctx, 10)
	if len(claimed) != 1 {
		t.Fatalf("reclaimed message not claimable")
	}
}

func TestMarkFailedUnknown(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	if err := store.MarkFailed(ctx, uuid.New(), errors.New("boom")); !errors.Is(err, outbox.ErrNotFound) {
		t.Fatalf("MarkFailed() error = %v, want %v", err, outbox.ErrNotFound)
	}

	// MarkFailed is only legal on a claimed message.
	id, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
	if err := store.MarkFailed(ctx, id, errors.New("boom")); !errors.Is(err, outbox.ErrNotFound) {
		t.Fatalf("MarkFailed() on pending error = %v, want %v", err, outbox.ErrNotFound)
	}
}

func TestEnqueueRejectsTx(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.Enqueue(context.Background(), struct{}{}, 1, "x.y.z", nil)
	if err == nil {
		t.Fatal("Enqueue() with tx should fail for the in-memory store")
	}
}

func TestEnqueueEmptyEventType(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.Enqueue(context.Background(), nil, 1, "", nil)
	if !errors.Is(err, outbox.ErrEmptyEventType) {
		t.Fatalf("Enqueue() error = %v, want %v", err, outbox.ErrEmptyEventType)
	}
}

func TestListDead(t *testing.T) {
	store, clock := newTestStore(WithMaxAttempts(0))
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, _ := store.Enqueue(ctx, nil, 1, "x.y.z", nil)
		ids = append(ids, id)
		clock.Advance(time.Second)
	}
	claimed, _ := store.DequeueBatch(ctx, 10)
	for _, msg := range claimed {
		if err := store.MarkFailed(ctx, msg.ID, errors.New("boom")); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
	}

	dead, err := store.ListDead(ctx, 10)
	if err != nil {
		t.Fatalf("ListDead() error = %v", err)
	}
	if len(dead) != 3 {
		t.Fatalf("ListDead() returned %d messages, want 3", len(dead))
	}
	for i, msg := range dead {
		if msg.ID != ids[i] {
			t.Fatalf("dead[%d] = %v, want %v (oldest first)", i, msg.ID, ids[i])
		}
	}

	limited, _ := store.ListDead(ctx, 2)
	if len(limited) != 2 {
		t.Fatalf("ListDead(2) returned %d messages, want 2", len(limited))
	}
}
