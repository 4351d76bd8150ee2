// Package audiolevel samples a live microphone stream and publishes its
// normalized input level.
package audiolevel

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = 100 * time.Millisecond

// Monitor runs at most one sampling loop at a time. Start and Stop are
// synchronous: when Stop returns, the loop has exited and its analyser is
// closed, so the source stream may be released safely.
type Monitor struct {
	publish  func(domain.AudioLevelSample)
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu       sync.Mutex
	level    int
	streamID string
	stopCh   chan struct{}
	doneCh   chan struct{}
	analyser ports.AudioAnalyser
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the sampling cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a stopped monitor. publish is called from the sampling
// goroutine and must not call Start or Stop.
func New(publish func(domain.AudioLevelSample), opts ...Option) *Monitor {
	m := &Monitor{
		publish:  publish,
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins sampling stream, replacing any loop already running. The
// previous loop is fully stopped before the new one starts, and the level is
// reset to zero so nothing from the old stream is reported.
func (m *Monitor) Start(stream ports.AudioStream) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopLocked()

	analyser, err := stream.NewAnalyser()
	if err != nil {
		return fmt.Errorf("create analyser for %s: %w", stream.ID(), err)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	m.mu.Lock()
	m.level = 0
	m.streamID = stream.ID()
	m.stopCh = stopCh
	m.doneCh = doneCh
	m.analyser = analyser
	m.mu.Unlock()

	go m.loop(analyser, stopCh, doneCh)

	m.logger.Debug("audio level monitor started",
		slog.String("stream_id", stream.ID()),
		slog.Duration("interval", m.interval))
	return nil
}

// Stop halts sampling and releases the analyser. It is a no-op when the
// monitor is not running.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	m.mu.Lock()
	stopCh, doneCh, analyser, streamID := m.stopCh, m.doneCh, m.analyser, m.streamID
	m.stopCh, m.doneCh, m.analyser, m.streamID = nil, nil, nil, ""
	m.level = 0
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
	if err := analyser.Close(); err != nil {
		m.logger.Warn("failed to close audio analyser",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()))
	}
	m.logger.Debug("audio level monitor stopped", slog.String("stream_id", streamID))
}

// Running reports whether a sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCh != nil
}

// Level returns the most recent level, or zero when stopped.
func (m *Monitor) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Monitor) loop(analyser ports.AudioAnalyser, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	bins := make([]byte, analyser.FrequencyBinCount())
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		// A stop that raced the tick wins.
		select {
		case <-stopCh:
			return
		default:
		}

		n := analyser.ByteFrequencyData(bins)
		level := Normalize(bins[:n])

		m.mu.Lock()
		if m.stopCh != stopCh {
			m.mu.Unlock()
			return
		}
		m.level = level
		m.mu.Unlock()

		if m.publish != nil {
			m.publish(domain.AudioLevelSample{Level: level, At: m.now()})
		}
	}
}

// Normalize maps byte frequency magnitudes to a level in [0,100] using the
// rounded mean magnitude.
func Normalize(bins []byte) int {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	avg := float64(sum) / float64(len(bins))
	level := int(math.Round(avg * 100 / 255))
	return max(0, min(100, level))
}
