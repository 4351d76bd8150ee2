// Package session owns the pre-call verification and call lifecycle of one
// appointment attempt.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/televisit/internal/audiolevel"
	"github.com/tjfontaine/televisit/internal/broadcast"
	"github.com/tjfontaine/televisit/internal/conference"
	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
	"github.com/tjfontaine/televisit/internal/metrics"
	"github.com/tjfontaine/televisit/internal/probe"
	"github.com/tjfontaine/televisit/internal/readiness"
)

// Prober resolves one capability check.
type Prober interface {
	Run(ctx context.Context, kind domain.CapabilityKind, preferredDeviceID string) probe.Result
	PlayTestTone(ctx context.Context, deviceID string) error
}

// EngineAdapter starts the conferencing engine for a session.
type EngineAdapter interface {
	Initialize(ctx context.Context, sc domain.SessionContext, devices domain.DeviceSelections, sink func(domain.EngineEvent)) (*conference.Handle, error)
}

// FeedbackCollector finalizes end-of-call feedback.
type FeedbackCollector interface {
	Submit(ctx context.Context, appointmentID, sessionID string, rec domain.FeedbackRecord) (domain.FeedbackAck, error)
	Skip(appointmentID, sessionID string) domain.FeedbackAck
}

// Snapshot is a point-in-time view of a controller for observers.
type Snapshot struct {
	Context      domain.SessionContext    `json:"context"`
	Session      domain.CallSession       `json:"session"`
	Capabilities []domain.CapabilityTest  `json:"capabilities"`
	Readiness    domain.ReadinessSnapshot `json:"readiness"`
	AudioLevel   int                      `json:"audio_level"`
	Media        domain.MediaState        `json:"media"`
	Room         string                   `json:"room,omitempty"`
}

// Controller is the single owner of a session: its capability tests, the
// media streams those tests hold, the audio level monitor and the engine
// handle. All methods are safe for concurrent use.
type Controller struct {
	id        string
	sc        domain.SessionContext
	prober    Prober
	adapter   EngineAdapter
	feedback  FeedbackCollector
	monitor   *audiolevel.Monitor
	publisher ports.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	hub       *broadcast.Hub[domain.SessionEvent]

	audioInterval time.Duration

	mu         sync.Mutex
	machine    *Machine
	session    domain.CallSession
	tests      map[domain.CapabilityKind]domain.CapabilityTest
	gens       map[domain.CapabilityKind]uint64
	streams    map[domain.CapabilityKind]ports.MediaStream
	readiness  domain.ReadinessSnapshot
	handle     *conference.Handle
	media      domain.MediaState
	finalizing bool
	torndown   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithEventPublisher journals lifecycle events.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithAudioInterval sets the microphone sampling cadence.
func WithAudioInterval(d time.Duration) Option {
	return func(c *Controller) { c.audioInterval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller in Preview with every capability Pending.
func New(sc domain.SessionContext, prober Prober, adapter EngineAdapter, collector FeedbackCollector, opts ...Option) *Controller {
	c := &Controller{
		sc:            sc,
		prober:        prober,
		adapter:       adapter,
		feedback:      collector,
		logger:        slog.Default(),
		tracer:        otel.Tracer("televisit/session"),
		now:           time.Now,
		hub:           broadcast.NewHub[domain.SessionEvent](),
		audioInterval: audiolevel.DefaultInterval,
		machine:       NewMachine(),
		tests:         make(map[domain.CapabilityKind]domain.CapabilityTest, len(domain.AllCapabilities)),
		gens:          make(map[domain.CapabilityKind]uint64, len(domain.AllCapabilities)),
		streams:       make(map[domain.CapabilityKind]ports.MediaStream),
		media:         domain.MediaState{Participants: []string{}},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.id = uuid.NewString()
	c.session = domain.CallSession{ID: c.id, State: domain.CallPreview}
	c.logger = c.logger.With(
		slog.String("session_id", c.id),
		slog.String("appointment_id", sc.AppointmentID))
	c.monitor = audiolevel.New(c.onAudioLevel,
		audiolevel.WithInterval(c.audioInterval),
		audiolevel.WithLogger(c.logger),
		audiolevel.WithClock(c.now))

	for _, kind := range domain.AllCapabilities {
		c.tests[kind] = domain.NewCapabilityTest(kind)
	}
	c.readiness = readiness.Recompute(c.tests)

	c.publish(context.Background(), []*domain.LifecycleEvent{c.lifecycle(domain.LifecycleSessionCreated, c.sc)})
	c.logger.Info("session created", slog.String("role", string(sc.ParticipantRole)))
	return c
}

// ID returns the call session identifier.
func (c *Controller) ID() string { return c.id }

// Context returns the immutable session context.
func (c *Controller) Context() domain.SessionContext { return c.sc }

// State returns the current call state.
func (c *Controller) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// Session returns a copy of the call session record.
func (c *Controller) Session() domain.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// History returns every call state entered so far.
func (c *Controller) History() []domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.History()
}

// Test returns the current test for kind.
func (c *Controller) Test(kind domain.CapabilityKind) domain.CapabilityTest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tests[kind].Clone()
}

// Tests returns every capability test in display order.
func (c *Controller) Tests() []domain.CapabilityTest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testsLocked()
}

// Readiness returns the current readiness verdict.
func (c *Controller) Readiness() domain.ReadinessSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readiness
}

// AudioLevel returns the latest microphone level, zero when not sampling.
func (c *Controller) AudioLevel() int {
	return c.monitor.Level()
}

// Snapshot returns a consistent view of the whole controller.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	media := c.media
	media.Participants = append([]string{}, c.media.Participants...)
	return Snapshot{
		Context:      c.sc,
		Session:      c.session,
		Capabilities: c.testsLocked(),
		Readiness:    c.readiness,
		AudioLevel:   c.monitor.Level(),
		Media:        media,
		Room:         c.handle.Room(),
	}
}

// Subscribe streams session events to an observer. Slow observers miss events
// rather than stall the session.
func (c *Controller) Subscribe(buffer int) (<-chan domain.SessionEvent, func()) {
	return c.hub.Subscribe(buffer)
}

// RunChecks probes every Pending capability concurrently and returns when all
// of them have resolved. Capabilities already tested are left alone.
func (c *Controller) RunChecks(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "session.RunChecks")
	defer span.End()

	c.mu.Lock()
	if c.inertLocked() {
		c.mu.Unlock()
		return nil
	}
	if state := c.machine.State(); state != domain.CallPreview {
		c.mu.Unlock()
		return domain.ErrInvalidTransition(state, "run checks")
	}
	var kinds []domain.CapabilityKind
	for _, kind := range domain.AllCapabilities {
		if c.tests[kind].State == domain.TestPending {
			kinds = append(kinds, kind)
		}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			c.runProbe(gctx, kind)
			return nil
		})
	}
	return g.Wait()
}

// Retest resets a resolved capability to Pending, releases whatever it held
// and probes it again. It is rejected while that capability is still testing.
func (c *Controller) Retest(ctx context.Context, kind domain.CapabilityKind) error {
	if !kind.Valid() {
		return domain.ErrInvalidRequest("unknown capability " + string(kind))
	}

	c.mu.Lock()
	if c.inertLocked() {
		c.mu.Unlock()
		return nil
	}
	if err := c.resetLocked(kind, ""); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.runProbe(ctx, kind)
	return nil
}

// SelectDevice switches a capability to another enumerated device. Capture
// devices are re-acquired through a retest; the speaker selection is applied
// directly.
func (c *Controller) SelectDevice(ctx context.Context, kind domain.CapabilityKind, deviceID string) error {
	if kind == domain.CapabilityNetwork || !kind.Valid() {
		return domain.ErrInvalidRequest("no device to select for " + string(kind))
	}

	c.mu.Lock()
	if c.inertLocked() {
		c.mu.Unlock()
		return nil
	}
	test := c.tests[kind]
	if !test.HasDevice(deviceID) {
		c.mu.Unlock()
		return domain.ErrInvalidRequest("device " + deviceID + " is not available").
			WithCode(domain.ErrorCodeUnknownDevice).WithCapability(kind)
	}

	if !kind.AcquiresStream() {
		if state := c.machine.State(); state != domain.CallPreview {
			c.mu.Unlock()
			return domain.ErrInvalidTransition(state, "select device")
		}
		test.SelectedDeviceID = deviceID
		test.UpdatedAt = c.now()
		c.tests[kind] = test
		c.emitCapabilityLocked(test)
		c.mu.Unlock()
		return nil
	}

	if err := c.resetLocked(kind, deviceID); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.runProbe(ctx, kind)
	return nil
}

// PlayTestTone plays a short burst on the selected speaker. It never changes
// the speaker test.
func (c *Controller) PlayTestTone(ctx context.Context) error {
	c.mu.Lock()
	if c.inertLocked() {
		c.mu.Unlock()
		return nil
	}
	deviceID := c.tests[domain.CapabilitySpeaker].SelectedDeviceID
	c.mu.Unlock()
	return c.prober.PlayTestTone(ctx, deviceID)
}

// Join moves Preview to Connecting when readiness allows it or override
// covers the remaining blocks. Probe-held streams are released before the
// engine is handed the selected devices. An engine that fails to start moves
// the session to Ending with the error attached to its outcome.
func (c *Controller) Join(ctx context.Context, override domain.Override) error {
	ctx, span := c.tracer.Start(ctx, "session.Join",
		trace.WithAttributes(attribute.String("override", string(override))))
	defer span.End()

	c.mu.Lock()
	if c.inertLocked() {
		c.mu.Unlock()
		return nil
	}
	if state := c.machine.State(); state != domain.CallPreview {
		c.mu.Unlock()
		return domain.ErrInvalidTransition(state, "join")
	}
	snap := c.readiness
	if !override.Covers(snap.BlockLevel()) {
		c.mu.Unlock()
		c.metrics.JoinAttempt(override, "blocked")
		c.logger.Info("join blocked",
			slog.String("level", string(snap.BlockLevel())),
			slog.Any("blocking", snap.BlockingReasons),
			slog.Any("soft", snap.SoftBlocks),
			slog.Any("pending", snap.Pending))
		span.SetStatus(codes.Error, "readiness blocked")
		return domain.ErrReadinessBlocked(snap)
	}

	c.monitor.Stop()
	c.releaseStreamsLocked()
	events := c.fireLocked(TriggerJoin, domain.SessionOutcome{})
	sel := c.selectionsLocked()
	c.mu.Unlock()
	c.publish(ctx, events)
	c.metrics.JoinAttempt(override, "accepted")

	handle, err := c.adapter.Initialize(ctx, c.sc, sel, c.onEngineEvent)

	c.mu.Lock()
	if err != nil {
		var events []*domain.LifecycleEvent
		if c.machine.State() == domain.CallConnecting {
			events = c.fireLocked(TriggerEngineError, domain.SessionOutcome{
				EndReason: domain.EndReasonEngineError,
				Error:     err.Error(),
				Retryable: true,
			})
		}
		c.mu.Unlock()
		c.publish(ctx, events)
		c.logger.Error("conference engine failed to start", slog.String("error", err.Error()))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if c.torndown || !c.callActiveLocked() {
		// The call ended while the engine was starting.
		c.mu.Unlock()
		_ = handle.Dispose()
		return nil
	}
	c.handle = handle
	c.mu.Unlock()
	return nil
}

// EndCall ends a connecting or active call. Repeated calls while the call is
// already ending are no-ops.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if c.inertLocked() {
		c.mu.Unlock()
		return nil
	}
	switch state := c.machine.State(); state {
	case domain.CallEnding:
		c.mu.Unlock()
		return nil
	case domain.CallPreview:
		c.mu.Unlock()
		return domain.ErrInvalidTransition(state, "end call")
	}
	events := c.fireLocked(TriggerEndCall, domain.SessionOutcome{EndReason: domain.EndReasonUserEnded})
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	c.publish(ctx, events)

	if h != nil {
		if err := h.Hangup(ctx); err != nil {
			c.logger.Warn("hangup failed", slog.String("error", err.Error()))
		}
		_ = h.Dispose()
	}
	return nil
}

// ToggleAudio asks the engine to flip the microphone mute.
func (c *Controller) ToggleAudio(ctx context.Context) error {
	h, err := c.activeHandle("toggle audio")
	if err != nil || h == nil {
		return err
	}
	return h.ToggleAudio(ctx)
}

// ToggleVideo asks the engine to flip the camera.
func (c *Controller) ToggleVideo(ctx context.Context) error {
	h, err := c.activeHandle("toggle video")
	if err != nil || h == nil {
		return err
	}
	return h.ToggleVideo(ctx)
}

func (c *Controller) activeHandle(op string) (*conference.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inertLocked() {
		return nil, nil
	}
	if state := c.machine.State(); state != domain.CallInCall || c.handle == nil {
		return nil, domain.ErrInvalidTransition(state, op)
	}
	return c.handle, nil
}

// SubmitFeedback validates and forwards the record, then closes the session.
// A delivery failure is reported in the acknowledgement and never keeps the
// session open; an invalid record is rejected and leaves the session in Ending.
func (c *Controller) SubmitFeedback(ctx context.Context, rec domain.FeedbackRecord) (domain.FeedbackAck, error) {
	closed, err := c.beginFeedback("submit feedback")
	if err != nil || closed {
		return domain.FeedbackAck{}, err
	}

	ack, err := c.feedback.Submit(ctx, c.sc.AppointmentID, c.id, rec)
	if err != nil {
		c.mu.Lock()
		c.finalizing = false
		c.mu.Unlock()
		return domain.FeedbackAck{}, err
	}

	eventType := domain.LifecycleFeedbackSubmitted
	if ack.Skipped {
		eventType = domain.LifecycleFeedbackSkipped
	}
	c.finishFeedback(ctx, eventType, ack)
	return ack, nil
}

// SkipFeedback closes the session without sending feedback.
func (c *Controller) SkipFeedback(ctx context.Context) error {
	closed, err := c.beginFeedback("skip feedback")
	if err != nil || closed {
		return err
	}
	ack := c.feedback.Skip(c.sc.AppointmentID, c.id)
	c.finishFeedback(ctx, domain.LifecycleFeedbackSkipped, ack)
	return nil
}

// beginFeedback claims the right to finalize the session. closed is true
// when there is nothing left to do.
func (c *Controller) beginFeedback(op string) (closed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inertLocked() {
		return true, nil
	}
	if state := c.machine.State(); state != domain.CallEnding || c.finalizing {
		return false, domain.ErrInvalidTransition(state, op)
	}
	c.finalizing = true
	return false, nil
}

func (c *Controller) finishFeedback(ctx context.Context, eventType domain.LifecycleEventType, ack domain.FeedbackAck) {
	c.mu.Lock()
	c.finalizing = false
	events := []*domain.LifecycleEvent{c.lifecycle(eventType, domain.LifecycleFeedbackData{Ack: ack})}
	events = append(events, c.fireLocked(TriggerFeedbackDone, c.session.Outcome)...)
	c.mu.Unlock()
	c.publish(ctx, events)
}

// Teardown releases every resource the session holds: the audio monitor,
// probe streams and the engine. It is idempotent and safe from any state;
// afterwards the controller is inert. The call state is left as it was.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	c.torndown = true
	c.monitor.Stop()
	c.releaseStreamsLocked()
	h := c.handle
	c.handle = nil
	state := c.machine.State()
	c.mu.Unlock()

	_ = h.Dispose()
	c.hub.Close()
	c.logger.Info("session torn down", slog.String("state", string(state)))
}

func (c *Controller) onEngineEvent(ev domain.EngineEvent) {
	c.metrics.EngineEvent(ev.Type)

	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	c.emitLocked(domain.SessionEvent{Type: domain.SessionEngineEvent, Engine: &ev})

	var events []*domain.LifecycleEvent
	var dispose *conference.Handle
	state := c.machine.State()

	switch ev.Type {
	case domain.EngineJoined:
		if state == domain.CallConnecting {
			c.session.StartedAt = ev.Timestamp
			events = c.fireLocked(TriggerEngineJoined, domain.SessionOutcome{})
		}
	case domain.EngineError:
		if state == domain.CallConnecting {
			events = c.fireLocked(TriggerEngineError, domain.SessionOutcome{
				EndReason: domain.EndReasonEngineError,
				Error:     ev.Error,
				Retryable: true,
			})
			dispose, c.handle = c.handle, nil
		} else {
			c.logger.Warn("conference engine reported an error", slog.String("error", ev.Error))
		}
	case domain.EngineLeft, domain.EngineReadyToClose:
		if c.callActiveLocked() {
			trigger, reason := TriggerEngineLeft, domain.EndReasonEngineLeft
			if ev.Type == domain.EngineReadyToClose {
				trigger, reason = TriggerEngineReadyToClose, domain.EndReasonReadyToClose
			}
			events = c.fireLocked(trigger, domain.SessionOutcome{EndReason: reason})
		}
		if c.machine.State() == domain.CallEnding {
			dispose, c.handle = c.handle, nil
		}
	case domain.EngineAudioMuteChanged:
		c.media.AudioMuted = ev.Muted
		c.emitMediaLocked()
	case domain.EngineVideoMuteChanged:
		c.media.VideoMuted = ev.Muted
		c.emitMediaLocked()
	case domain.EngineScreenShareChanged:
		c.media.ScreenSharing = ev.Sharing
		c.emitMediaLocked()
	case domain.EngineParticipantJoined:
		c.media.Participants = appendUnique(c.media.Participants, ev.ParticipantID)
		c.emitMediaLocked()
	case domain.EngineParticipantLeft:
		c.media.Participants = remove(c.media.Participants, ev.ParticipantID)
		c.emitMediaLocked()
	}
	c.mu.Unlock()

	c.publish(context.Background(), events)
	if dispose != nil {
		_ = dispose.Dispose()
	}
}

func (c *Controller) onAudioLevel(sample domain.AudioLevelSample) {
	c.metrics.AudioLevel(sample.Level)
	c.hub.Publish(domain.SessionEvent{
		Type:          domain.SessionAudioLevel,
		SessionID:     c.id,
		AppointmentID: c.sc.AppointmentID,
		Timestamp:     sample.At,
		AudioLevel:    &sample,
	})
}

// runProbe moves kind from Pending to Testing, probes it without holding the
// lock, and applies the result unless the session moved on in the meantime.
func (c *Controller) runProbe(ctx context.Context, kind domain.CapabilityKind) {
	c.mu.Lock()
	if c.inertLocked() || c.machine.State() != domain.CallPreview || c.tests[kind].State != domain.TestPending {
		c.mu.Unlock()
		return
	}
	c.gens[kind]++
	gen := c.gens[kind]
	test := c.tests[kind].Clone()
	test.State = domain.TestTesting
	test.Message = ""
	test.UpdatedAt = c.now()
	c.setTestLocked(test)
	preferred := test.SelectedDeviceID
	c.mu.Unlock()

	res := c.prober.Run(ctx, kind, preferred)

	c.mu.Lock()
	if c.torndown || c.machine.State() != domain.CallPreview || c.gens[kind] != gen {
		c.mu.Unlock()
		if res.Stream != nil {
			_ = res.Stream.Stop()
		}
		c.logger.Debug("discarded stale probe result", slog.String("capability", string(kind)))
		return
	}

	if len(res.Test.DeviceOptions) == 0 && len(test.DeviceOptions) > 0 {
		// Keep the last known device list so a failed retest can still switch devices.
		res.Test.DeviceOptions = test.DeviceOptions
		res.Test.SelectedDeviceID = test.SelectedDeviceID
	}
	c.setTestLocked(res.Test)
	if res.Stream != nil {
		c.streams[kind] = res.Stream
		if kind == domain.CapabilityMicrophone {
			c.startMonitorLocked(res.Stream)
		}
	}
	event := c.lifecycle(domain.LifecycleCapabilityResolved, domain.LifecycleCapabilityData{
		Kind:    kind,
		State:   res.Test.State,
		Cause:   res.Test.Cause,
		Message: res.Test.Message,
	})
	c.mu.Unlock()

	c.metrics.ProbeResolved(res.Test)
	c.publish(ctx, []*domain.LifecycleEvent{event})
}

// resetLocked returns a resolved capability to Pending and releases its
// stream, monitor first. deviceID, when set, becomes the preferred device.
func (c *Controller) resetLocked(kind domain.CapabilityKind, deviceID string) error {
	if state := c.machine.State(); state != domain.CallPreview {
		return domain.ErrInvalidTransition(state, "retest")
	}
	test := c.tests[kind].Clone()
	switch test.State {
	case domain.TestTesting:
		return domain.NewError(domain.ErrorTypeInvalidTransition, kind.Title()+" check is still running").
			WithCode(domain.ErrorCodeProbeInProgress).WithCapability(kind)
	case domain.TestPending:
		if deviceID != "" {
			test.SelectedDeviceID = deviceID
			c.tests[kind] = test
		}
		return nil
	}

	c.releaseStreamLocked(kind)
	test.State = domain.TestPending
	test.Message = ""
	test.Cause = domain.CauseNone
	test.Remediation = ""
	test.Quality = domain.NetworkUnknown
	test.UpdatedAt = c.now()
	if deviceID != "" {
		test.SelectedDeviceID = deviceID
	}
	c.setTestLocked(test)
	return nil
}

func (c *Controller) setTestLocked(test domain.CapabilityTest) {
	prev := c.tests[test.Kind]
	if !domain.CanTransitionTest(prev.State, test.State) {
		c.logger.Error("refusing capability transition",
			slog.String("capability", string(test.Kind)),
			slog.String("from", string(prev.State)),
			slog.String("to", string(test.State)))
		return
	}
	c.tests[test.Kind] = test
	c.emitCapabilityLocked(test)

	snap := readiness.Recompute(c.tests)
	if !readiness.Equal(snap, c.readiness) {
		c.readiness = snap
		c.emitLocked(domain.SessionEvent{Type: domain.SessionReadinessChanged, Readiness: &snap})
	}
}

func (c *Controller) startMonitorLocked(stream ports.MediaStream) {
	audio, ok := stream.(ports.AudioStream)
	if !ok {
		c.logger.Warn("microphone stream cannot be analysed", slog.String("stream_id", stream.ID()))
		return
	}
	if err := c.monitor.Start(audio); err != nil {
		c.logger.Warn("audio level monitor failed to start", slog.String("error", err.Error()))
	}
}

func (c *Controller) releaseStreamLocked(kind domain.CapabilityKind) {
	stream, ok := c.streams[kind]
	if !ok {
		return
	}
	if kind == domain.CapabilityMicrophone {
		c.monitor.Stop()
	}
	delete(c.streams, kind)
	if err := stream.Stop(); err != nil {
		c.logger.Warn("failed to release media stream",
			slog.String("capability", string(kind)),
			slog.String("error", err.Error()))
	}
}

// releaseStreamsLocked releases every held stream and invalidates in-flight
// probes so their late results are discarded.
func (c *Controller) releaseStreamsLocked() {
	for _, kind := range domain.AllCapabilities {
		c.gens[kind]++
		c.releaseStreamLocked(kind)
	}
}

func (c *Controller) selectionsLocked() domain.DeviceSelections {
	return domain.DeviceSelections{
		CameraID:     c.tests[domain.CapabilityCamera].SelectedDeviceID,
		MicrophoneID: c.tests[domain.CapabilityMicrophone].SelectedDeviceID,
		SpeakerID:    c.tests[domain.CapabilitySpeaker].SelectedDeviceID,
	}
}

// fireLocked applies a trigger that the caller has already checked is valid
// and returns the lifecycle events to publish.
func (c *Controller) fireLocked(t Trigger, outcome domain.SessionOutcome) []*domain.LifecycleEvent {
	tr, err := c.machine.Fire(t)
	if err != nil {
		c.logger.Error("unexpected call transition", slog.String("trigger", string(t)), slog.String("error", err.Error()))
		return nil
	}
	if !tr.Changed {
		return nil
	}

	c.session.State = tr.To
	if tr.To == domain.CallEnding {
		c.session.EndedAt = c.now()
		c.session.Outcome = outcome
	}
	c.metrics.Transition(tr.From, tr.To)
	c.logger.Info("call state changed",
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)),
		slog.String("trigger", string(t)))

	session := c.session
	c.emitLocked(domain.SessionEvent{Type: domain.SessionStateChanged, Session: &session})
	return []*domain.LifecycleEvent{c.lifecycle(domain.LifecycleStateChanged, domain.LifecycleStateData{
		From:    tr.From,
		To:      tr.To,
		Outcome: c.session.Outcome,
	})}
}

func (c *Controller) callActiveLocked() bool {
	state := c.machine.State()
	return state == domain.CallConnecting || state == domain.CallInCall
}

func (c *Controller) inertLocked() bool {
	return c.torndown || c.machine.State() == domain.CallClosed
}

func (c *Controller) testsLocked() []domain.CapabilityTest {
	out := make([]domain.CapabilityTest, 0, len(domain.AllCapabilities))
	for _, kind := range domain.AllCapabilities {
		out = append(out, c.tests[kind].Clone())
	}
	return out
}

func (c *Controller) emitCapabilityLocked(test domain.CapabilityTest) {
	clone := test.Clone()
	c.emitLocked(domain.SessionEvent{Type: domain.SessionCapabilityUpdated, Capability: &clone})
}

func (c *Controller) emitMediaLocked() {
	media := c.media
	media.Participants = append([]string{}, c.media.Participants...)
	c.emitLocked(domain.SessionEvent{Type: domain.SessionMediaChanged, Media: &media})
}

func (c *Controller) emitLocked(ev domain.SessionEvent) {
	ev.SessionID = c.id
	ev.AppointmentID = c.sc.AppointmentID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	c.hub.Publish(ev)
}

func (c *Controller) lifecycle(t domain.LifecycleEventType, data any) *domain.LifecycleEvent {
	return &domain.LifecycleEvent{
		ID:            uuid.NewString(),
		Type:          t,
		SessionID:     c.id,
		AppointmentID: c.sc.AppointmentID,
		Timestamp:     c.now(),
		Data:          data,
	}
}

func (c *Controller) publish(ctx context.Context, events []*domain.LifecycleEvent) {
	if c.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := c.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
			c.logger.Warn("failed to publish lifecycle event",
				slog.String("event_type", string(ev.Type)),
				slog.String("error", err.Error()))
		}
	}
}

func appendUnique(list []string, id string) []string {
	if id == "" {
		return list
	}
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func remove(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
