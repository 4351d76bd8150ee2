package direct

import (
	"context"
	"testing"
	"time"

	"github.com/tjfontaine/televisit/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/televisit/internal/core/domain"
)

func TestNewPublisher(t *testing.T) {
	store, _ := sqlite.NewProvider(":memory:")
	defer store.Close()

	publisher, err := NewPublisher(store)
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	if publisher == nil {
		t.Fatal("NewPublisher returned nil")
	}
}

func TestNewPublisher_NilStorage(t *testing.T) {
	_, err := NewPublisher(nil)
	if err == nil {
		t.Error("Expected error for nil storage")
	}
	if err.Error() != "storage provider required" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPublish(t *testing.T) {
	store, _ := sqlite.NewProvider(":memory:")
	defer store.Close()

	publisher, _ := NewPublisher(store)
	ctx := context.Background()

	event := &domain.LifecycleEvent{
		ID:            "ev-1",
		Type:          domain.LifecycleStateChanged,
		SessionID:     "session-123",
		AppointmentID: "appt-1",
		Timestamp:     time.Now(),
		Data:          domain.LifecycleStateData{From: domain.CallInCall, To: domain.CallEnding},
	}

	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	events, err := store.ListLifecycleEvents(ctx, "session-123")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != domain.LifecycleStateChanged {
		t.Errorf("journal = %+v", events)
	}

	if err := publisher.Publish(ctx, event); err == nil {
		t.Error("duplicate event id should fail")
	}
}

func TestClose(t *testing.T) {
	store, _ := sqlite.NewProvider(":memory:")
	publisher, _ := NewPublisher(store)

	if err := publisher.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	store.Close()
}
