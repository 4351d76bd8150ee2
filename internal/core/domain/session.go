package domain

import (
	"strings"
	"time"
)

// ParticipantRole is the role of the local participant in the consultation.
type ParticipantRole string

const (
	RolePatient  ParticipantRole = "patient"
	RoleProvider ParticipantRole = "provider"
)

// Valid reports whether r is a known role.
func (r ParticipantRole) Valid() bool {
	return r == RolePatient || r == RoleProvider
}

// Appointment is the record returned by the external appointment service.
type Appointment struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	CounterpartName string    `json:"counterpart_name"`
	CounterpartRole string    `json:"counterpart_role"`
}

// SessionContext is the immutable metadata a session is built from.
// It is loaded once and never refreshed during the session.
type SessionContext struct {
	AppointmentID   string          `json:"appointment_id"`
	ParticipantRole ParticipantRole `json:"participant_role"`
	DisplayName     string          `json:"display_name"`
	ScheduledStart  time.Time       `json:"scheduled_start"`
	SessionType     string          `json:"session_type"`
	Status          string          `json:"status"`
	CounterpartName string          `json:"counterpart_name,omitempty"`
	CounterpartRole string          `json:"counterpart_role,omitempty"`
}

// DeviceSelections are the devices handed to the conferencing engine on join.
type DeviceSelections struct {
	CameraID     string `json:"camera_id,omitempty"`
	MicrophoneID string `json:"microphone_id,omitempty"`
	SpeakerID    string `json:"speaker_id,omitempty"`
}

// CallState is a phase of the call lifecycle.
type CallState string

const (
	CallPreview    CallState = "preview"
	CallConnecting CallState = "connecting"
	CallInCall     CallState = "in_call"
	CallEnding     CallState = "ending"
	CallClosed     CallState = "closed"
)

// Terminal reports whether s is the final state.
func (s CallState) Terminal() bool {
	return s == CallClosed
}

// EndReason records why a call left Connecting or InCall.
type EndReason string

const (
	EndReasonNone         EndReason = ""
	EndReasonUserEnded    EndReason = "user_ended"
	EndReasonEngineLeft   EndReason = "engine_left"
	EndReasonReadyToClose EndReason = "engine_ready_to_close"
	EndReasonEngineError  EndReason = "engine_error"
)

// SessionOutcome describes how the call ended.
type SessionOutcome struct {
	EndReason EndReason `json:"end_reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	// Retryable is set when the host may start a fresh attempt for the same
	// appointment.
	Retryable bool `json:"retryable,omitempty"`
}

// CallSession is the lifecycle record of one call attempt.
type CallSession struct {
	ID        string         `json:"id"`
	State     CallState      `json:"state"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	EndedAt   time.Time      `json:"ended_at,omitempty"`
	Outcome   SessionOutcome `json:"outcome"`
}

// MediaState tracks the in-call media toggles reported by the engine.
type MediaState struct {
	AudioMuted    bool     `json:"audio_muted"`
	VideoMuted    bool     `json:"video_muted"`
	ScreenSharing bool     `json:"screen_sharing"`
	Participants  []string `json:"participants"`
}

// AudioLevelSample is one normalized microphone reading in [0,100].
type AudioLevelSample struct {
	Level int       `json:"level"`
	At    time.Time `json:"at"`
}

// NormalizeStatus lowercases and trims an external status or type value.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
