package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Transition(domain.CallPreview, domain.CallConnecting)
	m.Transition(domain.CallConnecting, domain.CallInCall)
	if got := testutil.ToFloat64(m.activeCalls); got != 1 {
		t.Errorf("active calls = %v, want 1", got)
	}
	m.Transition(domain.CallInCall, domain.CallEnding)
	if got := testutil.ToFloat64(m.activeCalls); got != 0 {
		t.Errorf("active calls = %v, want 0", got)
	}

	m.ProbeResolved(domain.CapabilityTest{Kind: domain.CapabilityCamera, State: domain.TestFailed, Cause: domain.CausePermissionDenied})
	if got := testutil.ToFloat64(m.probes.WithLabelValues("camera", "failed", "permission_denied")); got != 1 {
		t.Errorf("probe counter = %v, want 1", got)
	}

	m.AudioLevel(42)
	if got := testutil.ToFloat64(m.audioLevel); got != 42 {
		t.Errorf("audio level = %v, want 42", got)
	}

	m.Feedback("queued")
	if got := testutil.CollectAndCount(m.feedback); got != 1 {
		t.Errorf("feedback series = %d, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Transition(domain.CallPreview, domain.CallConnecting)
	m.ProbeResolved(domain.CapabilityTest{})
	m.JoinAttempt(domain.OverrideNone, "ok")
	m.EngineEvent(domain.EngineJoined)
	m.Feedback("delivered")
	m.AudioLevel(10)
}
