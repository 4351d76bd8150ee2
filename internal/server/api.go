package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/session"
)

const maxBodyBytes = 64 << 10

// Sessions gives the API the agent's current call attempt.
type Sessions interface {
	// Current returns the attempt the UI is driving.
	Current() (*session.Controller, error)
	// Restart begins a new attempt once the current one is closed.
	Restart(ctx context.Context) (*session.Controller, error)
	// Attempts lists every attempt for the appointment, oldest first.
	Attempts() []domain.CallSession
}

// API serves the session routes.
type API struct {
	sessions       Sessions
	gatherer       prometheus.Gatherer
	logger         *slog.Logger
	requestTimeout time.Duration
	probeTimeout   time.Duration
	joinTimeout    time.Duration
	heartbeat      time.Duration
}

// APIOption configures an API.
type APIOption func(*API)

// WithGatherer serves gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) APIOption {
	return func(a *API) { a.gatherer = g }
}

// WithAPILogger sets the logger.
func WithAPILogger(logger *slog.Logger) APIOption {
	return func(a *API) { a.logger = logger }
}

// WithRequestTimeout bounds every route except the event stream.
func WithRequestTimeout(d time.Duration) APIOption {
	return func(a *API) { a.requestTimeout = d }
}

// WithProbeTimeout bounds a check run. Probes are detached from the request
// so a UI reload does not fail the checks in flight.
func WithProbeTimeout(d time.Duration) APIOption {
	return func(a *API) { a.probeTimeout = d }
}

// WithJoinTimeout bounds engine initialization on join.
func WithJoinTimeout(d time.Duration) APIOption {
	return func(a *API) { a.joinTimeout = d }
}

// WithHeartbeat sets the keep-alive interval on the event stream.
func WithHeartbeat(d time.Duration) APIOption {
	return func(a *API) { a.heartbeat = d }
}

// NewAPI creates the session API.
func NewAPI(sessions Sessions, opts ...APIOption) *API {
	a := &API{
		sessions:       sessions,
		logger:         slog.Default(),
		requestTimeout: 30 * time.Second,
		probeTimeout:   15 * time.Second,
		joinTimeout:    20 * time.Second,
		heartbeat:      15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes registers the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if a.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/events", a.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(a.requestTimeout))

		r.Get("/session", a.handleSession)
		r.Get("/attempts", a.handleAttempts)
		r.Post("/attempts", a.handleRestart)

		r.Post("/checks", a.handleChecks)
		r.Post("/retest/{kind}", a.handleRetest)
		r.Post("/devices/{kind}", a.handleSelectDevice)
		r.Post("/tone", a.handleTone)

		r.Post("/join", a.handleJoin)
		r.Post("/end", a.handleEnd)
		r.Post("/audio", a.handleToggleAudio)
		r.Post("/video", a.handleToggleVideo)

		r.Post("/feedback", a.handleFeedback)
		r.Post("/feedback/skip", a.handleSkipFeedback)
	})
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error *domain.Error `json:"error"`
}

// SelectDeviceRequest is the body of POST /devices/{kind}.
type SelectDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// JoinRequest is the body of POST /join.
type JoinRequest struct {
	Override string `json:"override,omitempty"`
}

// FeedbackResponse is returned by POST /feedback and /feedback/skip.
type FeedbackResponse struct {
	Ack     domain.FeedbackAck `json:"ack"`
	Session session.Snapshot   `json:"session"`
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	c, ok := a.current(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (a *API) handleAttempts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Attempts())
}

func (a *API) handleRestart(w http.ResponseWriter, r *http.Request) {
	c, err := a.sessions.Restart(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "session_id", c.ID())
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (a *API) handleChecks(w http.ResponseWriter, r *http.Request) {
	a.withController(w, r, func(c *session.Controller) error {
		ctx, cancel := a.detached(r, a.probeTimeout)
		defer cancel()
		return c.RunChecks(ctx)
	})
}

func (a *API) handleRetest(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseCapabilityKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, domain.ErrInvalidRequest(err.Error()))
		return
	}
	a.withController(w, r, func(c *session.Controller) error {
		ctx, cancel := a.detached(r, a.probeTimeout)
		defer cancel()
		return c.Retest(ctx, kind)
	})
}

func (a *API) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseCapabilityKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, domain.ErrInvalidRequest(err.Error()))
		return
	}
	var req SelectDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.DeviceID == "" {
		writeError(w, r, domain.ErrInvalidRequest("device_id is required"))
		return
	}
	a.withController(w, r, func(c *session.Controller) error {
		ctx, cancel := a.detached(r, a.probeTimeout)
		defer cancel()
		return c.SelectDevice(ctx, kind, req.DeviceID)
	})
}

func (a *API) handleTone(w http.ResponseWriter, r *http.Request) {
	a.withController(w, r, func(c *session.Controller) error {
		return c.PlayTestTone(r.Context())
	})
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	override, err := domain.ParseOverride(req.Override)
	if err != nil {
		writeError(w, r, domain.ErrInvalidRequest(err.Error()))
		return
	}
	AddLogField(r.Context(), "override", string(override))
	a.withController(w, r, func(c *session.Controller) error {
		ctx, cancel := a.detached(r, a.joinTimeout)
		defer cancel()
		return c.Join(ctx, override)
	})
}

func (a *API) handleEnd(w http.ResponseWriter, r *http.Request) {
	a.withController(w, r, func(c *session.Controller) error {
		return c.EndCall(r.Context())
	})
}

func (a *API) handleToggleAudio(w http.ResponseWriter, r *http.Request) {
	a.withController(w, r, func(c *session.Controller) error {
		return c.ToggleAudio(r.Context())
	})
}

func (a *API) handleToggleVideo(w http.ResponseWriter, r *http.Request) {
	a.withController(w, r, func(c *session.Controller) error {
		return c.ToggleVideo(r.Context())
	})
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var rec domain.FeedbackRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, r, err)
		return
	}
	c, ok := a.current(w, r)
	if !ok {
		return
	}
	// Delivery outlives the request; a dropped connection must not lose it.
	ack, err := c.SubmitFeedback(context.WithoutCancel(r.Context()), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ack.Error != "" {
		AddLogField(r.Context(), "feedback_error", ack.Error)
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Ack: ack, Session: c.Snapshot()})
}

func (a *API) handleSkipFeedback(w http.ResponseWriter, r *http.Request) {
	c, ok := a.current(w, r)
	if !ok {
		return
	}
	if err := c.SkipFeedback(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Ack: domain.FeedbackAck{Skipped: true}, Session: c.Snapshot()})
}

// handleEvents streams session events as server-sent events. The first event
// is a snapshot so a reconnecting UI can render without a separate fetch.
// The stream ends when the client goes away or the session is torn down.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := a.current(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := c.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", c.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				a.logger.Debug("event stream closed", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		}
	}
}

// withController runs fn against the current attempt and replies with the
// resulting snapshot.
func (a *API) withController(w http.ResponseWriter, r *http.Request, fn func(*session.Controller) error) {
	c, ok := a.current(w, r)
	if !ok {
		return
	}
	if err := fn(c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (a *API) current(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	c, err := a.sessions.Current()
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	AddLogField(r.Context(), "session_id", c.ID())
	return c, true
}

func (a *API) detached(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrInvalidRequest("malformed request body").WithCause(err)
	}
	return nil
}

func writeSSE(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err to its status code. Errors that are not domain errors
// are reported as internal without leaking their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	de, ok := domain.AsError(err)
	if !ok {
		de = domain.NewError("internal", "internal error")
	}
	writeJSON(w, de.HTTPStatusCode(), ErrorResponse{Error: de})
}
