package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

func TestSQLiteStore_LifecycleJournal(t *testing.T) {
	store, err := New("file:journal1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	events := []*domain.LifecycleEvent{
		{ID: "e1", Type: domain.LifecycleSessionCreated, SessionID: "s1", AppointmentID: "a1", Timestamp: base},
		{ID: "e2", Type: domain.LifecycleStateChanged, SessionID: "s1", AppointmentID: "a1", Timestamp: base.Add(time.Second),
			Data: domain.LifecycleStateData{From: domain.CallPreview, To: domain.CallConnecting}},
		{ID: "e3", Type: domain.LifecycleSessionCreated, SessionID: "s2", AppointmentID: "a1", Timestamp: base},
	}
	for _, ev := range events {
		if err := store.AppendLifecycleEvent(ctx, ev); err != nil {
			t.Fatalf("AppendLifecycleEvent() error = %v", err)
		}
	}

	got, err := store.ListLifecycleEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListLifecycleEvents() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e2" {
		t.Fatalf("ListLifecycleEvents() = %+v", got)
	}
	if !got[1].Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("Timestamp = %v", got[1].Timestamp)
	}

	raw, ok := got[1].Data.(json.RawMessage)
	if !ok {
		t.Fatalf("Data = %T, want json.RawMessage", got[1].Data)
	}
	var data domain.LifecycleStateData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}
	if data.To != domain.CallConnecting {
		t.Errorf("data.To = %s", data.To)
	}
}

func TestSQLiteStore_DuplicateEventID(t *testing.T) {
	store, err := New("file:journal2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ev := &domain.LifecycleEvent{ID: "dup", Type: domain.LifecycleSessionCreated, SessionID: "s", AppointmentID: "a"}
	if err := store.AppendLifecycleEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendLifecycleEvent(context.Background(), ev); err == nil {
		t.Error("expected primary key violation")
	}
}

func TestSQLiteStore_FeedbackOutbox(t *testing.T) {
	store, err := New("file:outbox1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		sub := &domain.FeedbackSubmission{AppointmentID: id, SessionID: "s-" + id, Rating: domain.IntPtr(4), Comment: "ok"}
		if err := store.EnqueueFeedback(ctx, sub, "503 from feedback service"); err != nil {
			t.Fatalf("EnqueueFeedback() error = %v", err)
		}
	}

	pending, err := store.PendingFeedback(ctx, 2)
	if err != nil {
		t.Fatalf("PendingFeedback() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("PendingFeedback(2) = %d entries", len(pending))
	}
	first := pending[0]
	if first.Submission.AppointmentID != "a1" || first.Attempts != 1 || first.LastError != "503 from feedback service" {
		t.Errorf("first entry = %+v", first)
	}
	if first.Submission.Rating == nil || *first.Submission.Rating != 4 {
		t.Errorf("rating lost in round trip: %+v", first.Submission)
	}

	if err := store.RecordFeedbackAttempt(ctx, first.ID, "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFeedbackDelivered(ctx, pending[1].ID); err != nil {
		t.Fatal(err)
	}

	all, err := store.PendingFeedback(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("PendingFeedback(0) = %d entries, want 2", len(all))
	}
	if all[0].Attempts != 2 || all[0].LastError != "timeout" {
		t.Errorf("after attempt = %+v", all[0])
	}
	if all[1].Submission.AppointmentID != "a3" {
		t.Errorf("second entry = %+v", all[1].Submission)
	}

	if err := store.MarkFeedbackDelivered(ctx, 9999); err == nil {
		t.Error("MarkFeedbackDelivered(unknown) should fail")
	}
}
