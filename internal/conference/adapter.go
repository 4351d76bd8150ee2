// Package conference wraps the external conferencing engine and translates
// its events into the session core's vocabulary.
package conference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// DefaultRoomPrefix is prepended to the appointment ID to form the room name.
const DefaultRoomPrefix = "televisit-"

// RoomName derives the room both participants join for an appointment.
func RoomName(prefix, appointmentID string) string {
	return prefix + strings.TrimSpace(appointmentID)
}

// Adapter creates engine instances for sessions.
type Adapter struct {
	factory       ports.EngineFactory
	serverAddr    string
	roomPrefix    string
	startMuted    bool
	startVideoOff bool
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRoomPrefix sets the room name prefix.
func WithRoomPrefix(prefix string) Option {
	return func(a *Adapter) {
		if prefix != "" {
			a.roomPrefix = prefix
		}
	}
}

// WithStartMuted joins with the microphone muted.
func WithStartMuted(muted bool) Option {
	return func(a *Adapter) { a.startMuted = muted }
}

// WithStartVideoOff joins with the camera off.
func WithStartVideoOff(off bool) Option {
	return func(a *Adapter) { a.startVideoOff = off }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter creates an adapter for the given engine factory and server.
func NewAdapter(factory ports.EngineFactory, serverAddr string, opts ...Option) *Adapter {
	a := &Adapter{
		factory:    factory,
		serverAddr: serverAddr,
		roomPrefix: DefaultRoomPrefix,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize constructs an engine for the session and attaches sink to its
// translated event stream. Any construction failure is reported as an
// engine-initialization error.
func (a *Adapter) Initialize(ctx context.Context, sc domain.SessionContext, devices domain.DeviceSelections, sink func(domain.EngineEvent)) (*Handle, error) {
	opts := ports.EngineOptions{
		RoomName:      RoomName(a.roomPrefix, sc.AppointmentID),
		DisplayName:   sc.DisplayName,
		StartMuted:    a.startMuted,
		StartVideoOff: a.startVideoOff,
		Devices:       devices,
	}

	engine, err := a.factory.NewEngine(ctx, a.serverAddr, opts)
	if err != nil {
		return nil, domain.ErrEngineInitialization(fmt.Sprintf("could not start conference for room %s", opts.RoomName)).
			WithCause(err).WithRetryable(true)
	}

	h := &Handle{
		engine: engine,
		room:   opts.RoomName,
		logger: a.logger.With(slog.String("room", opts.RoomName)),
	}
	h.unsubscribe = engine.Subscribe(func(raw ports.RawEngineEvent) {
		ev, ok := Translate(raw, a.now())
		if !ok {
			h.logger.Debug("ignoring unknown engine event", slog.String("event", raw.Name))
			return
		}
		if sink != nil {
			sink(ev)
		}
	})

	a.logger.Info("conference engine initialized",
		slog.String("room", opts.RoomName),
		slog.String("server", a.serverAddr))
	return h, nil
}

// Handle is a live engine bound to one session.
type Handle struct {
	engine      ports.ConferenceEngine
	room        string
	logger      *slog.Logger
	unsubscribe func()
	disposeOnce sync.Once
	disposeErr  error
}

// Room returns the room name.
func (h *Handle) Room() string {
	if h == nil {
		return ""
	}
	return h.room
}

// ToggleAudio mutes or unmutes the local microphone in the conference.
func (h *Handle) ToggleAudio(ctx context.Context) error {
	return h.command(ctx, "toggle audio", h.engine.ToggleAudio)
}

// ToggleVideo turns the local camera on or off in the conference.
func (h *Handle) ToggleVideo(ctx context.Context) error {
	return h.command(ctx, "toggle video", h.engine.ToggleVideo)
}

// Hangup asks the engine to leave the conference.
func (h *Handle) Hangup(ctx context.Context) error {
	return h.command(ctx, "hang up", h.engine.Hangup)
}

func (h *Handle) command(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return domain.ErrUpstream("conference engine rejected " + name).WithCause(err).WithRetryable(true)
	}
	return nil
}

// Dispose detaches listeners and tears the engine down. It is idempotent,
// nil-safe and may be called from an engine event handler.
func (h *Handle) Dispose() error {
	if h == nil {
		return nil
	}
	h.disposeOnce.Do(func() {
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
		h.disposeErr = h.engine.Dispose()
		if h.disposeErr != nil {
			h.logger.Warn("conference engine dispose failed", slog.String("error", h.disposeErr.Error()))
		} else {
			h.logger.Debug("conference engine disposed")
		}
	})
	return h.disposeErr
}

// Translate maps a raw engine event to the normalized vocabulary. ok is false
// for events this core does not consume.
func Translate(raw ports.RawEngineEvent, at time.Time) (domain.EngineEvent, bool) {
	ev := domain.EngineEvent{Timestamp: at}
	switch raw.Name {
	case ports.RawEventConferenceJoined:
		ev.Type = domain.EngineJoined
		ev.ParticipantID = stringField(raw.Data, "id")
		ev.DisplayName = stringField(raw.Data, "displayName")
	case ports.RawEventConferenceLeft:
		ev.Type = domain.EngineLeft
	case ports.RawEventParticipantJoined:
		ev.Type = domain.EngineParticipantJoined
		ev.ParticipantID = stringField(raw.Data, "id")
		ev.DisplayName = stringField(raw.Data, "displayName")
	case ports.RawEventParticipantLeft:
		ev.Type = domain.EngineParticipantLeft
		ev.ParticipantID = stringField(raw.Data, "id")
	case ports.RawEventAudioMuteChanged:
		ev.Type = domain.EngineAudioMuteChanged
		ev.Muted = boolField(raw.Data, "muted")
	case ports.RawEventVideoMuteChanged:
		ev.Type = domain.EngineVideoMuteChanged
		ev.Muted = boolField(raw.Data, "muted")
	case ports.RawEventScreenSharingChange:
		ev.Type = domain.EngineScreenShareChanged
		ev.Sharing = boolField(raw.Data, "on")
	case ports.RawEventErrorOccurred:
		ev.Type = domain.EngineError
		ev.Error = errorField(raw.Data)
	case ports.RawEventReadyToClose:
		ev.Type = domain.EngineReadyToClose
	default:
		return domain.EngineEvent{}, false
	}
	return ev, true
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func boolField(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func errorField(data map[string]any) string {
	for _, key := range []string{"message", "error", "name"} {
		if s := stringField(data, key); s != "" {
			return s
		}
	}
	if nested, ok := data["error"].(map[string]any); ok {
		if s := stringField(nested, "message"); s != "" {
			return s
		}
		if s := stringField(nested, "name"); s != "" {
			return s
		}
	}
	return "conference engine error"
}
