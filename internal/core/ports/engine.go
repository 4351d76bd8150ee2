package ports

import (
	"context"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

// Raw event names emitted by the external conferencing engine.
const (
	RawEventConferenceJoined    = "videoConferenceJoined"
	RawEventConferenceLeft      = "videoConferenceLeft"
	RawEventParticipantJoined   = "participantJoined"
	RawEventParticipantLeft     = "participantLeft"
	RawEventAudioMuteChanged    = "audioMuteStatusChanged"
	RawEventVideoMuteChanged    = "videoMuteStatusChanged"
	RawEventScreenSharingChange = "screenSharingStatusChanged"
	RawEventErrorOccurred       = "errorOccurred"
	RawEventReadyToClose        = "readyToClose"
)

// RawEngineEvent is an event as the engine emits it, before translation.
type RawEngineEvent struct {
	Name string         `json:"event"`
	Data map[string]any `json:"data,omitempty"`
}

// EngineOptions is the options object handed to the engine constructor.
type EngineOptions struct {
	RoomName      string                  `json:"roomName"`
	DisplayName   string                  `json:"displayName"`
	StartMuted    bool                    `json:"startMuted"`
	StartVideoOff bool                    `json:"startVideoOff"`
	Devices       domain.DeviceSelections `json:"devices"`
}

// ConferenceEngine is a running instance of the external conferencing engine.
type ConferenceEngine interface {
	// Subscribe registers a handler for every raw event and returns a
	// function that removes it.
	Subscribe(handler func(RawEngineEvent)) (unsubscribe func())

	ToggleAudio(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	Hangup(ctx context.Context) error

	// Dispose tears the engine down. It may be called from an event handler.
	Dispose() error
}

// EngineFactory constructs engines against a conferencing server.
// Implementations: wsbridge (embedded engine over a websocket), test fakes.
type EngineFactory interface {
	NewEngine(ctx context.Context, serverAddr string, opts EngineOptions) (ConferenceEngine, error)
}
