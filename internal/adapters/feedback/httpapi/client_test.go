package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

func submission() *domain.FeedbackSubmission {
	return &domain.FeedbackSubmission{
		AppointmentID: "appt-1",
		SessionID:     "sess-1",
		Rating:        domain.IntPtr(5),
		Comment:       "clear audio",
		SubmittedAt:   time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC),
	}
}

func constant() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

func TestClient_SubmitFeedback(t *testing.T) {
	var got feedbackRequest
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithToken("tok"))
	if err := c.SubmitFeedback(context.Background(), submission()); err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}
	if path != "/appointments/appt-1/feedback" {
		t.Errorf("path = %q", path)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.SessionID != "sess-1" || got.Rating == nil || *got.Rating != 5 || got.Comment != "clear audio" {
		t.Errorf("body = %+v", got)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithMaxRetries(3), WithBackOff(constant))
	if err := c.SubmitFeedback(context.Background(), submission()); err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithMaxRetries(2), WithBackOff(constant))
	if err := c.SubmitFeedback(context.Background(), submission()); err == nil {
		t.Fatal("SubmitFeedback() error = nil, want failure")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"rating rejected"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithMaxRetries(5), WithBackOff(constant))
	if err := c.SubmitFeedback(context.Background(), submission()); err == nil {
		t.Fatal("SubmitFeedback() error = nil, want failure")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, 4xx must not be retried", calls.Load())
	}
}
