package session

import (
	"context"
	"testing"

	"github.com/tjfontaine/televisit/internal/conference"
	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/feedback"
	"github.com/tjfontaine/televisit/internal/probe"
	"github.com/tjfontaine/televisit/internal/testutil"
)

func TestRegistryOneOpenAttempt(t *testing.T) {
	devices := testutil.NewFakeDevices()
	factory := &testutil.FakeEngineFactory{}
	r := NewRegistry(func(sc domain.SessionContext) *Controller {
		return New(sc, probe.New(devices), conference.NewAdapter(factory, "srv"), feedback.NewCollector(nil))
	})
	defer r.Close()

	first, err := r.Begin(testContext())
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Begin(testContext())
	if de, ok := domain.AsError(err); !ok || de.Code != domain.ErrorCodeAttemptInProgress {
		t.Fatalf("second Begin() error = %v, want attempt_in_progress", err)
	}

	ctx := context.Background()
	if err := first.RunChecks(ctx); err != nil {
		t.Fatal(err)
	}
	if err := first.Join(ctx, domain.OverrideNone); err != nil {
		t.Fatal(err)
	}
	if err := first.EndCall(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Begin(testContext()); err == nil {
		t.Fatal("Begin() allowed while previous attempt is ending")
	}
	if err := first.SkipFeedback(ctx); err != nil {
		t.Fatal(err)
	}

	second, err := r.Begin(testContext())
	if err != nil {
		t.Fatalf("Begin() after closed error = %v", err)
	}
	if second.ID() == first.ID() {
		t.Error("new attempt must have a new session id")
	}
	if cur, _ := r.Current("appt-1"); cur != second {
		t.Error("Current() should return the new attempt")
	}

	attempts := r.Attempts("appt-1")
	if len(attempts) != 2 || attempts[0].State != domain.CallClosed || attempts[1].State != domain.CallPreview {
		t.Errorf("Attempts() = %+v", attempts)
	}
}
