package domain

import (
	"time"
)

// EngineEventType is the normalized vocabulary for conferencing engine events.
type EngineEventType string

const (
	EngineJoined             EngineEventType = "joined"
	EngineLeft               EngineEventType = "left"
	EngineParticipantJoined  EngineEventType = "participant_joined"
	EngineParticipantLeft    EngineEventType = "participant_left"
	EngineAudioMuteChanged   EngineEventType = "audio_mute_changed"
	EngineVideoMuteChanged   EngineEventType = "video_mute_changed"
	EngineScreenShareChanged EngineEventType = "screen_share_changed"
	EngineError              EngineEventType = "error"
	EngineReadyToClose       EngineEventType = "ready_to_close"
)

// EngineEvent is a conferencing engine event translated into this core's terms.
type EngineEvent struct {
	Type          EngineEventType `json:"type"`
	ParticipantID string          `json:"participant_id,omitempty"`
	DisplayName   string          `json:"display_name,omitempty"`
	Muted         bool            `json:"muted,omitempty"`
	Sharing       bool            `json:"sharing,omitempty"`
	Error         string          `json:"error,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SessionEventType identifies what changed in a SessionEvent.
type SessionEventType string

const (
	SessionStateChanged      SessionEventType = "state_changed"
	SessionCapabilityUpdated SessionEventType = "capability_updated"
	SessionReadinessChanged  SessionEventType = "readiness_changed"
	SessionAudioLevel        SessionEventType = "audio_level"
	SessionEngineEvent       SessionEventType = "engine_event"
	SessionMediaChanged      SessionEventType = "media_changed"
)

// SessionEvent is delivered to observers (UI layers) of a session controller.
type SessionEvent struct {
	Type          SessionEventType   `json:"type"`
	SessionID     string             `json:"session_id"`
	AppointmentID string             `json:"appointment_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Session       *CallSession       `json:"session,omitempty"`
	Capability    *CapabilityTest    `json:"capability,omitempty"`
	Readiness     *ReadinessSnapshot `json:"readiness,omitempty"`
	AudioLevel    *AudioLevelSample  `json:"audio_level,omitempty"`
	Engine        *EngineEvent       `json:"engine,omitempty"`
	Media         *MediaState        `json:"media,omitempty"`
}

// LifecycleEvent represents a high-level lifecycle event for a session.
// These events are published for decoupled consumers (journal, analytics).
// This is distinct from SessionEvent, which also carries high-frequency UI
// updates such as audio levels.
type LifecycleEvent struct {
	ID            string             `json:"id"`
	Type          LifecycleEventType `json:"type"`
	SessionID     string             `json:"session_id"`
	AppointmentID string             `json:"appointment_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Data          interface{}        `json:"data"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	LifecycleSessionCreated     LifecycleEventType = "session.created"
	LifecycleStateChanged       LifecycleEventType = "session.state_changed"
	LifecycleCapabilityResolved LifecycleEventType = "capability.resolved"
	LifecycleFeedbackSubmitted  LifecycleEventType = "feedback.submitted"
	LifecycleFeedbackSkipped    LifecycleEventType = "feedback.skipped"
)

// LifecycleStateData contains data for session.state_changed events.
type LifecycleStateData struct {
	From    CallState      `json:"from"`
	To      CallState      `json:"to"`
	Outcome SessionOutcome `json:"outcome"`
}

// LifecycleCapabilityData contains data for capability.resolved events.
type LifecycleCapabilityData struct {
	Kind    CapabilityKind `json:"kind"`
	State   TestState      `json:"state"`
	Cause   FailureCause   `json:"cause,omitempty"`
	Message string         `json:"message,omitempty"`
}

// LifecycleFeedbackData contains data for feedback events.
type LifecycleFeedbackData struct {
	Ack FeedbackAck `json:"ack"`
}
