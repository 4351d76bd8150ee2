package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
	"github.com/tjfontaine/televisit/internal/testutil"
)

func TestRunCamera(t *testing.T) {
	devices := testutil.NewFakeDevices()
	devices.Devices[domain.CapabilityCamera] = []domain.DeviceInfo{
		{ID: "cam-1", Label: "Front", Kind: domain.CapabilityCamera},
		{ID: "cam-2", Label: "USB", Kind: domain.CapabilityCamera},
	}
	p := New(devices)

	res := p.Run(context.Background(), domain.CapabilityCamera, "")

	if res.Test.State != domain.TestPassed {
		t.Fatalf("State = %v, want passed (%s)", res.Test.State, res.Test.Message)
	}
	if res.Test.Message != "Camera working (2 devices found)" {
		t.Errorf("Message = %q", res.Test.Message)
	}
	if res.Test.SelectedDeviceID != "cam-1" {
		t.Errorf("SelectedDeviceID = %q, want first device", res.Test.SelectedDeviceID)
	}
	if len(res.Test.DeviceOptions) != 2 {
		t.Errorf("DeviceOptions = %v", res.Test.DeviceOptions)
	}
	if res.Stream == nil {
		t.Fatal("camera probe must hand back its stream")
	}
}

func TestRunKeepsPreferredDevice(t *testing.T) {
	devices := testutil.NewFakeDevices()
	devices.Devices[domain.CapabilityMicrophone] = []domain.DeviceInfo{
		{ID: "mic-1", Kind: domain.CapabilityMicrophone},
		{ID: "mic-2", Kind: domain.CapabilityMicrophone},
	}
	p := New(devices)

	res := p.Run(context.Background(), domain.CapabilityMicrophone, "mic-2")
	if res.Test.SelectedDeviceID != "mic-2" {
		t.Errorf("SelectedDeviceID = %q, want mic-2", res.Test.SelectedDeviceID)
	}
	if res.Stream.DeviceID() != "mic-2" {
		t.Errorf("stream device = %q, want mic-2", res.Stream.DeviceID())
	}

	res = p.Run(context.Background(), domain.CapabilityMicrophone, "gone")
	if res.Test.SelectedDeviceID != "mic-1" {
		t.Errorf("SelectedDeviceID for unknown preference = %q, want mic-1", res.Test.SelectedDeviceID)
	}
}

func TestRunCaptureFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCause domain.FailureCause
		wantMsg   string
	}{
		{
			name:      "permission denied",
			err:       fmt.Errorf("NotAllowedError: %w", ports.ErrPermissionDenied),
			wantCause: domain.CausePermissionDenied,
			wantMsg:   "Camera access was denied",
		},
		{
			name:      "busy",
			err:       fmt.Errorf("open /dev/video0: %w", ports.ErrDeviceBusy),
			wantCause: domain.CauseDeviceUnavailable,
			wantMsg:   "Camera is in use by another application",
		},
		{
			name:      "missing",
			err:       ports.ErrDeviceNotFound,
			wantCause: domain.CauseDeviceUnavailable,
			wantMsg:   "No camera found",
		},
		{
			name:      "unclassified",
			err:       errors.New("boom"),
			wantCause: domain.CauseDeviceUnavailable,
			wantMsg:   "Camera could not be started: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices := testutil.NewFakeDevices()
			devices.SetAcquireErr(domain.CapabilityCamera, tt.err)

			res := New(devices).Run(context.Background(), domain.CapabilityCamera, "")

			if res.Test.State != domain.TestFailed {
				t.Fatalf("State = %v, want failed", res.Test.State)
			}
			if res.Test.Cause != tt.wantCause {
				t.Errorf("Cause = %v, want %v", res.Test.Cause, tt.wantCause)
			}
			if res.Test.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", res.Test.Message, tt.wantMsg)
			}
			if res.Test.Remediation == "" {
				t.Error("failed test must carry a remediation hint")
			}
			if res.Stream != nil {
				t.Error("failed probe must not return a stream")
			}
		})
	}
}

func TestRunRecoversPanic(t *testing.T) {
	devices := testutil.NewFakeDevices()
	devices.PanicOn = domain.CapabilityMicrophone

	res := New(devices).Run(context.Background(), domain.CapabilityMicrophone, "")
	if res.Test.State != domain.TestFailed || res.Test.Cause != domain.CauseDeviceUnavailable {
		t.Fatalf("panic should resolve to failed/device_unavailable, got %+v", res.Test)
	}
}

func TestRunSpeaker(t *testing.T) {
	devices := testutil.NewFakeDevices()
	p := New(devices)

	res := p.Run(context.Background(), domain.CapabilitySpeaker, "")
	if res.Test.State != domain.TestPassed {
		t.Fatalf("State = %v", res.Test.State)
	}
	if res.Stream != nil {
		t.Error("speaker probe must not acquire a stream")
	}
	if len(devices.AcquiredStreams()) != 0 {
		t.Error("speaker probe acquired a stream")
	}

	devices.Devices[domain.CapabilitySpeaker] = nil
	res = p.Run(context.Background(), domain.CapabilitySpeaker, "")
	if res.Test.State != domain.TestFailed || res.Test.Cause != domain.CauseDeviceUnavailable {
		t.Errorf("no outputs: got %+v", res.Test)
	}
}

func TestRunNetwork(t *testing.T) {
	tests := []struct {
		name        string
		info        ports.LinkInfo
		ok          bool
		wantState   domain.TestState
		wantQuality domain.NetworkQuality
	}{
		{name: "no heuristic fails open", ok: false, wantState: domain.TestPassed, wantQuality: domain.NetworkGood},
		{name: "fast downlink", info: ports.LinkInfo{DownlinkMbps: 10}, ok: true, wantState: domain.TestPassed, wantQuality: domain.NetworkGood},
		{name: "4g", info: ports.LinkInfo{EffectiveType: "4g", DownlinkMbps: 0.5}, ok: true, wantState: domain.TestPassed, wantQuality: domain.NetworkGood},
		{name: "wifi", info: ports.LinkInfo{EffectiveType: "wifi"}, ok: true, wantState: domain.TestPassed, wantQuality: domain.NetworkGood},
		{name: "fair downlink", info: ports.LinkInfo{DownlinkMbps: 1.5}, ok: true, wantState: domain.TestPassed, wantQuality: domain.NetworkFair},
		{name: "3g", info: ports.LinkInfo{EffectiveType: "3g", DownlinkMbps: 0.4}, ok: true, wantState: domain.TestPassed, wantQuality: domain.NetworkFair},
		{name: "poor", info: ports.LinkInfo{EffectiveType: "2g", DownlinkMbps: 0.3}, ok: true, wantState: domain.TestFailed, wantQuality: domain.NetworkPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices := testutil.NewFakeDevices()
			devices.SetLink(tt.info, tt.ok)

			res := New(devices).Run(context.Background(), domain.CapabilityNetwork, "")
			if res.Test.State != tt.wantState {
				t.Errorf("State = %v, want %v", res.Test.State, tt.wantState)
			}
			if res.Test.Quality != tt.wantQuality {
				t.Errorf("Quality = %v, want %v", res.Test.Quality, tt.wantQuality)
			}
			if tt.wantState == domain.TestFailed && res.Test.Cause != domain.CauseNetworkDegraded {
				t.Errorf("Cause = %v, want network_degraded", res.Test.Cause)
			}
		})
	}
}

func TestRunNetworkErrorFailsOpen(t *testing.T) {
	devices := testutil.NewFakeDevices()
	devices.LinkErr = errors.New("no sysfs")

	res := New(devices).Run(context.Background(), domain.CapabilityNetwork, "")
	if res.Test.State != domain.TestPassed {
		t.Errorf("State = %v, want passed", res.Test.State)
	}
}

func TestPlayTestTone(t *testing.T) {
	devices := testutil.NewFakeDevices()
	p := New(devices)

	if err := p.PlayTestTone(context.Background(), "spk-1"); err != nil {
		t.Fatalf("PlayTestTone() error = %v", err)
	}
	if len(devices.ToneCalls) != 1 || devices.ToneCalls[0] != "spk-1" {
		t.Errorf("ToneCalls = %v", devices.ToneCalls)
	}

	devices.ToneErr = errors.New("pacat missing")
	err := p.PlayTestTone(context.Background(), "spk-1")
	if domain.TypeOf(err) != domain.ErrorTypeDeviceUnavailable {
		t.Errorf("PlayTestTone() error type = %v", domain.TypeOf(err))
	}
	if !strings.Contains(err.Error(), "pacat missing") {
		t.Errorf("error should wrap cause: %v", err)
	}
}
