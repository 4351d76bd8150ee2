package domain

import (
	"fmt"
	"strings"
	"time"
)

// CapabilityKind identifies a resource verified before a call may start.
type CapabilityKind string

const (
	CapabilityCamera     CapabilityKind = "camera"
	CapabilityMicrophone CapabilityKind = "microphone"
	CapabilitySpeaker    CapabilityKind = "speaker"
	CapabilityNetwork    CapabilityKind = "network"
)

// AllCapabilities lists every capability in display order.
var AllCapabilities = []CapabilityKind{
	CapabilityCamera,
	CapabilityMicrophone,
	CapabilitySpeaker,
	CapabilityNetwork,
}

// HardCapabilities are the capabilities whose failure blocks readiness outright.
var HardCapabilities = []CapabilityKind{
	CapabilityCamera,
	CapabilityMicrophone,
	CapabilitySpeaker,
}

// Valid reports whether k is a known capability.
func (k CapabilityKind) Valid() bool {
	switch k {
	case CapabilityCamera, CapabilityMicrophone, CapabilitySpeaker, CapabilityNetwork:
		return true
	}
	return false
}

// IsHard reports whether a failure of k is a hard block.
func (k CapabilityKind) IsHard() bool {
	return k == CapabilityCamera || k == CapabilityMicrophone || k == CapabilitySpeaker
}

// AcquiresStream reports whether probing k holds a live media stream.
func (k CapabilityKind) AcquiresStream() bool {
	return k == CapabilityCamera || k == CapabilityMicrophone
}

// Title returns the user-facing name of the capability.
func (k CapabilityKind) Title() string {
	switch k {
	case CapabilityCamera:
		return "Camera"
	case CapabilityMicrophone:
		return "Microphone"
	case CapabilitySpeaker:
		return "Speaker"
	case CapabilityNetwork:
		return "Network"
	default:
		return string(k)
	}
}

// ParseCapabilityKind parses a capability name, case-insensitively.
func ParseCapabilityKind(s string) (CapabilityKind, error) {
	k := CapabilityKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return k, nil
}

// TestState is the progress of a single capability test.
type TestState string

const (
	TestPending TestState = "pending"
	TestTesting TestState = "testing"
	TestPassed  TestState = "passed"
	TestFailed  TestState = "failed"
)

// Terminal reports whether the test has resolved.
func (s TestState) Terminal() bool {
	return s == TestPassed || s == TestFailed
}

// CanTransitionTest reports whether a capability test may move from one state
// to another. Failed never moves straight to Passed; a retest goes through
// Pending and Testing first.
func CanTransitionTest(from, to TestState) bool {
	switch from {
	case TestPending:
		return to == TestTesting
	case TestTesting:
		return to == TestPassed || to == TestFailed
	case TestPassed, TestFailed:
		return to == TestPending
	}
	return false
}

// FailureCause classifies why a capability test failed.
type FailureCause string

const (
	CauseNone              FailureCause = ""
	CausePermissionDenied  FailureCause = "permission_denied"
	CauseDeviceUnavailable FailureCause = "device_unavailable"
	CauseNetworkDegraded   FailureCause = "network_degraded"
)

// NetworkQuality is the link classification produced by the network probe.
type NetworkQuality string

const (
	NetworkUnknown NetworkQuality = ""
	NetworkGood    NetworkQuality = "good"
	NetworkFair    NetworkQuality = "fair"
	NetworkPoor    NetworkQuality = "poor"
)

// DeviceInfo describes one selectable input or output device.
type DeviceInfo struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Kind  CapabilityKind `json:"kind"`
}

// CapabilityTest is the state of one capability check within a session.
type CapabilityTest struct {
	Kind             CapabilityKind `json:"kind"`
	State            TestState      `json:"state"`
	Message          string         `json:"message,omitempty"`
	Cause            FailureCause   `json:"cause,omitempty"`
	Remediation      string         `json:"remediation,omitempty"`
	DeviceOptions    []DeviceInfo   `json:"device_options"`
	SelectedDeviceID string         `json:"selected_device_id,omitempty"`
	Quality          NetworkQuality `json:"network_quality,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewCapabilityTest returns a Pending test for kind.
func NewCapabilityTest(kind CapabilityKind) CapabilityTest {
	return CapabilityTest{
		Kind:          kind,
		State:         TestPending,
		DeviceOptions: []DeviceInfo{},
	}
}

// Clone returns a deep copy of the test.
func (t CapabilityTest) Clone() CapabilityTest {
	out := t
	out.DeviceOptions = make([]DeviceInfo, len(t.DeviceOptions))
	copy(out.DeviceOptions, t.DeviceOptions)
	return out
}

// HasDevice reports whether id is one of the enumerated device options.
func (t CapabilityTest) HasDevice(id string) bool {
	for _, d := range t.DeviceOptions {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Remediation returns the hint shown next to a failed capability.
func Remediation(kind CapabilityKind, cause FailureCause) string {
	name := strings.ToLower(kind.Title())
	switch cause {
	case CausePermissionDenied:
		return fmt.Sprintf("Allow %s access in your browser or system settings, then run the test again.", name)
	case CauseDeviceUnavailable:
		if kind == CapabilitySpeaker {
			return "Connect speakers or headphones and make sure they are not muted, then run the test again."
		}
		return fmt.Sprintf("Make sure your %s is connected and not in use by another application, then run the test again.", name)
	case CauseNetworkDegraded:
		return "Move closer to your router or switch to a faster connection. You can still join, but video quality may suffer."
	default:
		return ""
	}
}
