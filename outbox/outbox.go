package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/enverbisevac/eventbox/validator"
)

var (
	// ErrNotFound is returned when no message in the expected state
	// matches the given id.
	ErrNotFound = errors.New("outbox: message not found")

	// ErrEmptyEventType is returned by Enqueue for a blank event type.
	ErrEmptyEventType = errors.New("outbox: event type is empty")
)

// Status represents the delivery state of an outbox message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusDead    Status = "dead"
)

// Claimable reports whether a message in this status may be claimed
// for dispatch, subject to its availability time.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

// Terminal reports whether the status ends the message lifecycle.
// Terminal messages are never reclaimed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDead
}

// Document is an opaque structured payload. The outbox layer never
// inspects it; producers and consumers agree on its shape out of band.
type Document map[string]any

// Message represents one durable event awaiting delivery.
type Message struct {
	ID          uuid.UUID
	OwnerID     int64
	EventType   string
	Payload     Document
	Status      Status
	Attempts    int
	AvailableAt time.Time
	LastError   string
	CreatedAt   time.Time
}

// ExternalID returns the deterministic id used by the bus layer to
// deduplicate repeat delivery of the same message.
func (m Message) ExternalID() string {
	return m.ID.String()
}

// NewMessage builds a pending message ready for persistence. The id is
// assigned here so every store backend returns it without a round trip.
func NewMessage(ownerID int64, eventType string, payload Document) (Message, error) {
	if !validator.NotBlank(eventType) {
		return Message{}, ErrEmptyEventType
	}
	now := time.Now()
	return Message{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		EventType:   eventType,
		Payload:     payload,
		Status:      StatusPending,
		AvailableAt: now,
		CreatedAt:   now,
	}, nil
}

// DequeueConfig holds the per-call configuration for DequeueBatch.
type DequeueConfig struct {
	OwnerID *int64
}

// A DequeueOption scopes a single DequeueBatch call.
type DequeueOption interface {
	Apply(*DequeueConfig)
}

// DequeueOptionFunc is a function that configures a dequeue config.
type DequeueOptionFunc func(*DequeueConfig)

// Apply calls f(config).
func (f DequeueOptionFunc) Apply(config *DequeueConfig) {
	f(config)
}

// ForOwner restricts a DequeueBatch call to one owner's messages.
func ForOwner(id int64) DequeueOption {
	return DequeueOptionFunc(func(c *DequeueConfig) {
		c.OwnerID = &id
	})
}

// Store is the interface for outbox message persistence. All mutation
// of the outbox table goes through these operations.
type Store interface {
	// Enqueue persists a new pending message within the given transaction.
	// tx can be pgx.Tx, *sql.Tx, or nil (Store uses its own connection).
	// If the enclosing transaction rolls back, no row exists.
	Enqueue(ctx context.Context, tx any, ownerID int64, eventType string, payload Document) (uuid.UUID, error)

	// DequeueBatch atomically claims up to limit ready messages, oldest
	// available first, skipping rows held by concurrent callers. Claimed
	// messages transition to sending and are returned exclusively to the
	// caller. An empty result is normal operation, not an error.
	DequeueBatch(ctx context.Context, limit int, opts ...DequeueOption) ([]Message, error)

	// MarkSent transitions sending messages to sent. Idempotent: ids
	// already sent are left untouched.
	MarkSent(ctx context.Context, ids ...uuid.UUID) error

	// MarkFailed increments attempts and records the error. The message
	// re-enters the claimable pool after an exponential backoff delay,
	// or is dead-lettered once its attempts are exhausted.
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error

	// ListDead returns dead-lettered messages for operator inspection.
	ListDead(ctx context.Context, limit int) ([]Message, error)

	// Requeue resets a dead message to pending, available immediately.
	// Attempts are preserved.
	Requeue(ctx context.Context, id uuid.UUID) error

	// ReclaimStale resets sending messages whose claim is older than
	// olderThan back to pending, so a crashed dispatcher cannot strand
	// them. Returns the number of reclaimed messages.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Publisher delivers one claimed message to its consumers.
type Publisher interface {
	Dispatch(ctx context.Context, msg Message) error
}
