// Package runtime assembles the televisit agent: configuration, storage, the
// device and conferencing adapters, the session registry and the local API.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	appointmenthttp "github.com/tjfontaine/televisit/internal/adapters/appointment/httpapi"
	"github.com/tjfontaine/televisit/internal/adapters/engine/wsbridge"
	"github.com/tjfontaine/televisit/internal/adapters/events/direct"
	feedbackhttp "github.com/tjfontaine/televisit/internal/adapters/feedback/httpapi"
	"github.com/tjfontaine/televisit/internal/adapters/media/host"
	"github.com/tjfontaine/televisit/internal/appointment"
	"github.com/tjfontaine/televisit/internal/conference"
	"github.com/tjfontaine/televisit/internal/config"
	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
	"github.com/tjfontaine/televisit/internal/feedback"
	"github.com/tjfontaine/televisit/internal/metrics"
	"github.com/tjfontaine/televisit/internal/probe"
	"github.com/tjfontaine/televisit/internal/server"
	"github.com/tjfontaine/televisit/internal/session"
	"github.com/tjfontaine/televisit/internal/storage"
)

// redeliverBatch caps how many queued submissions one redelivery pass sends.
const redeliverBatch = 50

// Agent runs one appointment's call attempts on the local machine and serves
// the API the UI drives them through.
type Agent struct {
	// Dependencies (injected via options or built from config in Start)
	config       ports.ConfigProvider
	storage      ports.StorageProvider
	events       ports.EventPublisher
	devices      ports.MediaDevices
	engines      ports.EngineFactory
	appointments ports.AppointmentSource
	feedbackSink ports.FeedbackSink
	registry     *prometheus.Registry
	listener     net.Listener
	logger       *slog.Logger
	level        *slog.LevelVar

	sessionOverride sessionOverride

	// Built in Start
	metrics   *metrics.Metrics
	collector *feedback.Collector
	loader    *appointment.Loader
	sessions  *session.Registry
	server    *server.Server

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.RWMutex
	cfg *config.Config
	sc  domain.SessionContext
}

// New creates an Agent. A config provider is required; every other
// dependency defaults to the adapter named by config.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if a.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return a, nil
}

// Start loads configuration and the appointment, opens the first call
// attempt and starts serving. It returns once the API is listening.
func (a *Agent) Start(ctx context.Context) (err error) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			a.cancel()
			if a.server == nil && a.listener != nil {
				_ = a.listener.Close()
			}
			a.closeResources()
		}
	}()

	cfg, err := a.config.Load(a.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	if a.level != nil {
		a.level.Set(ParseLevel(cfg.Log.Level))
	}

	if err := a.initAdapters(cfg); err != nil {
		return fmt.Errorf("init adapters: %w", err)
	}
	a.initCore(cfg)

	id, role, name := a.sessionOverride.apply(cfg.Session)
	if id == "" {
		return fmt.Errorf("no appointment configured (set session.appointment_id)")
	}
	sc, err := a.loader.Load(a.ctx, id, role, name)
	if err != nil {
		return fmt.Errorf("load appointment %s: %w", id, err)
	}
	a.sc = sc

	a.sessions = session.NewRegistry(a.buildController)
	if _, err := a.sessions.Begin(sc); err != nil {
		return fmt.Errorf("begin session: %w", err)
	}

	if err := a.startServer(cfg); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if err := a.config.Watch(a.ctx, a.reload); err != nil {
		a.logger.Warn("config hot reload unavailable", slog.String("error", err.Error()))
	}

	a.wg.Add(1)
	go a.redeliverLoop(cfg.Feedback.RedeliverInterval)

	a.logger.Info("agent started",
		slog.String("addr", a.Addr()),
		slog.String("appointment_id", sc.AppointmentID),
		slog.String("role", string(sc.ParticipantRole)),
		slog.String("storage", cfg.Storage.Type))
	return nil
}

// initAdapters fills every dependency that was not injected.
func (a *Agent) initAdapters(cfg *config.Config) error {
	if a.storage == nil {
		store, err := storage.Open(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		// nil when storage.type is none
		a.storage = store
	}
	if a.events == nil && a.storage != nil {
		publisher, err := direct.NewPublisher(a.storage)
		if err != nil {
			return fmt.Errorf("create default event publisher: %w", err)
		}
		a.events = publisher
	}
	if a.devices == nil {
		a.devices = host.New(host.WithLogger(a.logger))
	}
	if a.engines == nil {
		a.engines = wsbridge.NewFactory(cfg.Conference.BridgeURL, wsbridge.WithLogger(a.logger))
	}
	if a.appointments == nil {
		if cfg.Appointments.BaseURL == "" {
			return fmt.Errorf("appointments.base_url is required")
		}
		a.appointments = appointmenthttp.NewClient(cfg.Appointments.BaseURL,
			appointmenthttp.WithToken(cfg.Appointments.Token),
			appointmenthttp.WithTimeout(cfg.Appointments.Timeout))
	}
	if a.feedbackSink == nil {
		if cfg.Feedback.BaseURL != "" {
			a.feedbackSink = feedbackhttp.NewClient(cfg.Feedback.BaseURL,
				feedbackhttp.WithToken(cfg.Feedback.Token),
				feedbackhttp.WithTimeout(cfg.Feedback.Timeout),
				feedbackhttp.WithMaxRetries(cfg.Feedback.MaxRetries))
		} else {
			a.logger.Warn("no feedback service configured; feedback will be queued locally")
		}
	}
	return nil
}

func (a *Agent) initCore(cfg *config.Config) {
	a.metrics = metrics.New(a.registry)

	fbOpts := []feedback.Option{
		feedback.WithLogger(a.logger),
		feedback.WithMetrics(a.metrics),
	}
	if a.storage != nil {
		fbOpts = append(fbOpts, feedback.WithOutbox(a.storage))
	}
	a.collector = feedback.NewCollector(a.feedbackSink, fbOpts...)

	a.loader = appointment.NewLoader(a.appointments,
		appointment.WithVideoTypes(cfg.Appointments.VideoTypes),
		appointment.WithLogger(a.logger))
}

// buildController wires a new attempt with the configuration current at the
// time it starts, so reloaded thresholds apply from the next attempt on.
func (a *Agent) buildController(sc domain.SessionContext) *session.Controller {
	cfg := a.currentConfig()

	prober := probe.New(a.devices,
		probe.WithLogger(a.logger),
		probe.WithThresholds(thresholdsFrom(cfg)))
	adapter := conference.NewAdapter(a.engines, cfg.Conference.ServerAddr,
		conference.WithRoomPrefix(cfg.Conference.RoomPrefix),
		conference.WithStartMuted(cfg.Conference.StartMuted),
		conference.WithStartVideoOff(cfg.Conference.StartVideoOff),
		conference.WithLogger(a.logger))

	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
		session.WithAudioInterval(cfg.Probe.AudioInterval),
	}
	if a.events != nil {
		opts = append(opts, session.WithEventPublisher(a.events))
	}
	return session.New(sc, prober, adapter, a.collector, opts...)
}

func (a *Agent) startServer(cfg *config.Config) error {
	a.server = server.New(cfg.Server.Addr, a.logger, cfg.Server.Token)
	server.NewAPI(a,
		server.WithGatherer(a.registry),
		server.WithAPILogger(a.logger),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithProbeTimeout(cfg.Probe.Timeout),
	).Routes(a.server.Router)

	if a.listener == nil {
		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return err
		}
		a.listener = ln
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Serve(a.listener); err != nil {
			a.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Current implements server.Sessions.
func (a *Agent) Current() (*session.Controller, error) {
	sc := a.sessionContext()
	c, ok := a.sessions.Current(sc.AppointmentID)
	if !ok {
		return nil, domain.ErrNotFound("no session for appointment " + sc.AppointmentID)
	}
	return c, nil
}

// Restart re-checks the appointment and begins a new attempt. It fails with
// attempt_in_progress until the current attempt is Closed.
func (a *Agent) Restart(ctx context.Context) (*session.Controller, error) {
	prev := a.sessionContext()
	if c, ok := a.sessions.Current(prev.AppointmentID); ok && c.State() != domain.CallClosed {
		return nil, domain.NewError(domain.ErrorTypeInvalidTransition,
			"a call attempt for this appointment is already in progress").
			WithCode(domain.ErrorCodeAttemptInProgress)
	}

	sc, err := a.loader.Load(ctx, prev.AppointmentID, prev.ParticipantRole, prev.DisplayName)
	if err != nil {
		return nil, err
	}
	c, err := a.sessions.Begin(sc)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.sc = sc
	a.mu.Unlock()
	return c, nil
}

// Attempts implements server.Sessions.
func (a *Agent) Attempts() []domain.CallSession {
	return a.sessions.Attempts(a.sessionContext().AppointmentID)
}

// Addr returns the address the API is listening on.
func (a *Agent) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Config returns the configuration in effect.
func (a *Agent) Config() *config.Config {
	return a.currentConfig()
}

// RedeliverFeedback retries queued feedback once and reports how many
// submissions went through.
func (a *Agent) RedeliverFeedback(ctx context.Context) (int, error) {
	return a.collector.Redeliver(ctx, redeliverBatch)
}

func (a *Agent) currentConfig() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *Agent) sessionContext() domain.SessionContext {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sc
}

// reload applies a changed configuration. Log level takes effect at once;
// probe and conference settings apply to the next attempt. Listener, storage
// and service endpoints need a restart.
func (a *Agent) reload(cfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if a.level != nil {
		a.level.Set(ParseLevel(cfg.Log.Level))
	}
	if prev != nil {
		if prev.Server != cfg.Server || prev.Storage != cfg.Storage ||
			prev.Appointments.BaseURL != cfg.Appointments.BaseURL || prev.Feedback.BaseURL != cfg.Feedback.BaseURL {
			a.logger.Warn("config change requires an agent restart to take effect")
		}
	}
	a.logger.Info("reload complete",
		slog.String("log_level", cfg.Log.Level),
		slog.Float64("good_downlink_mbps", cfg.Probe.GoodDownlinkMbps),
		slog.Float64("fair_downlink_mbps", cfg.Probe.FairDownlinkMbps))
}

func (a *Agent) redeliverLoop(interval time.Duration) {
	defer a.wg.Done()
	if interval <= 0 {
		return
	}

	a.redeliver()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.redeliver()
		}
	}
}

func (a *Agent) redeliver() {
	n, err := a.RedeliverFeedback(a.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("feedback redelivery failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.Info("queued feedback redelivered", slog.Int("count", n))
	}
}

// Shutdown stops the API, tears down every attempt and releases storage.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down agent")

	if a.cancel != nil {
		a.cancel()
	}

	var shutdownErr error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			shutdownErr = err
		}
	}
	if a.sessions != nil {
		a.sessions.Close()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timed out waiting for background work")
	}

	a.closeResources()
	a.logger.Info("agent shutdown complete")
	return shutdownErr
}

func (a *Agent) closeResources() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
	if a.config != nil {
		if err := a.config.Close(); err != nil {
			a.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}
}
