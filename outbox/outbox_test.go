package outbox

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(1, "finance.account.created", Document{"name": "Savings"})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	if msg.ID == uuid.Nil {
		t.Error("ID should be assigned")
	}
	if msg.Status != StatusPending {
		t.Errorf("Status = %q, want %q", msg.Status, StatusPending)
	}
	if msg.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", msg.Attempts)
	}
	if msg.AvailableAt.IsZero() || msg.CreatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
	if msg.AvailableAt.After(msg.CreatedAt) {
		t.Error("new message should be available at creation")
	}
}

func TestNewMessageEmptyEventType(t *testing.T) {
	_, err := NewMessage(1, "", Document{"name": "Savings"})
	if !errors.Is(err, ErrEmptyEventType) {
		t.Fatalf("NewMessage() error = %v, want %v", err, ErrEmptyEventType)
	}
}

func TestNewMessageUniqueIDs(t *testing.T) {
	a, _ := NewMessage(1, "x.y.z", nil)
	b, _ := NewMessage(1, "x.y.z", nil)
	if a.ID == b.ID {
		t.Fatal("ids must never repeat across messages")
	}
}

func TestExternalID(t *testing.T) {
	msg, _ := NewMessage(1, "x.y.z", nil)
	if msg.ExternalID() != msg.ID.String() {
		t.Errorf("ExternalID() = %q, want %q", msg.ExternalID(), msg.ID.String())
	}
}

func TestStatusClaimable(t *testing.T) {
	claimable := map[Status]bool{
		StatusPending: true,
		StatusSending: false,
		StatusSent:    false,
		StatusFailed:  true,
		StatusDead:    false,
	}
	for status, want := range claimable {
		if got := status.Claimable(); got != want {
			t.Errorf("%q.Claimable() = %v, want %v", status, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending: false,
		StatusSending: false,
		StatusSent:    true,
		StatusFailed:  false,
		StatusDead:    true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%q.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestForOwner(t *testing.T) {
	var config DequeueConfig
	ForOwner(9).Apply(&config)

	if config.OwnerID == nil || *config.OwnerID != 9 {
		t.Fatalf("OwnerID = %v, want 9", config.OwnerID)
	}
}
