// Package ports defines the core interfaces for the session core.
// This file contains the interfaces for local media devices.
package ports

import (
	"context"
	"errors"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

// Errors that MediaDevices implementations wrap so probes can classify
// failures. Anything else is treated as device-unavailable.
var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceBusy       = errors.New("media device busy")
	ErrDeviceNotFound   = errors.New("media device not found")
)

// MediaStream is a live, exclusively held capture stream.
// Stop releases the underlying device and is safe to call more than once.
type MediaStream interface {
	ID() string
	Kind() domain.CapabilityKind
	DeviceID() string
	Stop() error
}

// AudioAnalyser exposes frequency-domain data for a live audio stream.
type AudioAnalyser interface {
	// FrequencyBinCount is the number of bins ByteFrequencyData fills.
	FrequencyBinCount() int
	// ByteFrequencyData copies the current magnitudes, scaled to [0,255],
	// into dst and returns the number of bins written.
	ByteFrequencyData(dst []byte) int
	Close() error
}

// AudioStream is a MediaStream that can be analysed for input level.
type AudioStream interface {
	MediaStream
	NewAnalyser() (AudioAnalyser, error)
}

// LinkInfo is the link-quality heuristic exposed by the runtime.
type LinkInfo struct {
	// EffectiveType is a connection class such as "4g", "3g", "wifi" or "ethernet".
	EffectiveType string
	// DownlinkMbps is the estimated downlink bandwidth; zero when unknown.
	DownlinkMbps float64
}

// MediaDevices is the runtime's camera, microphone, speaker and network surface.
// Implementations: host (Linux V4L2/PulseAudio), test fakes.
type MediaDevices interface {
	// AcquireStream requests exclusive access to a capture device. An empty
	// deviceID selects the default device.
	AcquireStream(ctx context.Context, kind domain.CapabilityKind, deviceID string) (MediaStream, error)

	// EnumerateDevices lists devices of a kind without acquiring them.
	EnumerateDevices(ctx context.Context, kind domain.CapabilityKind) ([]domain.DeviceInfo, error)

	// NetworkInfo returns the link heuristic. ok is false when the runtime
	// exposes none.
	NetworkInfo(ctx context.Context) (info LinkInfo, ok bool, err error)

	// PlayTestTone plays a short audible burst on an output device.
	PlayTestTone(ctx context.Context, deviceID string) error
}
