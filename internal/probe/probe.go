// Package probe verifies a single capability and resolves it to a terminal
// CapabilityTest.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// NetworkThresholds are the downlink cut-offs used to classify the link.
type NetworkThresholds struct {
	GoodMbps float64
	FairMbps float64
}

// DefaultThresholds classify >=4 Mbps as good and >=1.5 Mbps as fair.
var DefaultThresholds = NetworkThresholds{GoodMbps: 4, FairMbps: 1.5}

// Result is the outcome of one probe run. Stream is non-nil only for a passed
// camera or microphone probe, and the caller owns it from then on.
type Result struct {
	Test   domain.CapabilityTest
	Stream ports.MediaStream
}

// Prober runs capability probes against the runtime's media devices.
type Prober struct {
	devices    ports.MediaDevices
	thresholds NetworkThresholds
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) { p.logger = logger }
}

// WithThresholds overrides the network classification thresholds.
func WithThresholds(t NetworkThresholds) Option {
	return func(p *Prober) { p.thresholds = t }
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Prober) { p.now = now }
}

// New creates a Prober.
func New(devices ports.MediaDevices, opts ...Option) *Prober {
	p := &Prober{
		devices:    devices,
		thresholds: DefaultThresholds,
		logger:     slog.Default(),
		tracer:     otel.Tracer("televisit/probe"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run probes kind and always resolves to a Passed or Failed test. It never
// returns an error and never panics; every failure, including a panic in the
// device layer, is folded into the Failed result. preferredDeviceID is kept
// as the selection when it is among the enumerated devices.
func (p *Prober) Run(ctx context.Context, kind domain.CapabilityKind, preferredDeviceID string) (res Result) {
	ctx, span := p.tracer.Start(ctx, "probe."+string(kind),
		trace.WithAttributes(attribute.String("capability", string(kind))))
	start := p.now()

	defer func() {
		if r := recover(); r != nil {
			if res.Stream != nil {
				_ = res.Stream.Stop()
			}
			res = Result{Test: p.failed(kind, domain.CauseDeviceUnavailable, fmt.Sprintf("%s check crashed: %v", kind.Title(), r))}
		}
		if res.Test.State == domain.TestFailed {
			span.SetStatus(codes.Error, res.Test.Message)
		}
		span.SetAttributes(attribute.String("state", string(res.Test.State)))
		span.End()

		p.logger.Debug("capability probe resolved",
			slog.String("capability", string(kind)),
			slog.String("state", string(res.Test.State)),
			slog.String("cause", string(res.Test.Cause)),
			slog.Duration("duration", p.now().Sub(start)),
		)
	}()

	switch kind {
	case domain.CapabilityCamera, domain.CapabilityMicrophone:
		return p.runCapture(ctx, kind, preferredDeviceID)
	case domain.CapabilitySpeaker:
		return Result{Test: p.runSpeaker(ctx, preferredDeviceID)}
	case domain.CapabilityNetwork:
		return Result{Test: p.runNetwork(ctx)}
	default:
		return Result{Test: p.failed(kind, domain.CauseDeviceUnavailable, fmt.Sprintf("unknown capability %q", kind))}
	}
}

// PlayTestTone plays a short burst on the speaker. It has no effect on any
// capability test.
func (p *Prober) PlayTestTone(ctx context.Context, deviceID string) error {
	if err := p.devices.PlayTestTone(ctx, deviceID); err != nil {
		return domain.ErrDeviceUnavailable(domain.CapabilitySpeaker, "could not play test tone").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

func (p *Prober) runCapture(ctx context.Context, kind domain.CapabilityKind, preferred string) Result {
	stream, err := p.devices.AcquireStream(ctx, kind, preferred)
	if err != nil {
		cause := Classify(err)
		return Result{Test: p.failed(kind, cause, captureFailureMessage(kind, cause, err))}
	}

	devices, err := p.devices.EnumerateDevices(ctx, kind)
	if err != nil || len(devices) == 0 {
		// The stream proves at least one device works even if listing failed.
		if err != nil {
			p.logger.Warn("device enumeration failed after acquire",
				slog.String("capability", string(kind)),
				slog.String("error", err.Error()))
		}
		devices = []domain.DeviceInfo{{ID: stream.DeviceID(), Label: kind.Title(), Kind: kind}}
	}

	test := p.passed(kind, fmt.Sprintf("%s working (%s found)", kind.Title(), plural(len(devices), "device")))
	test.DeviceOptions = devices
	test.SelectedDeviceID = selectDevice(devices, preferred)
	return Result{Test: test, Stream: stream}
}

func (p *Prober) runSpeaker(ctx context.Context, preferred string) domain.CapabilityTest {
	devices, err := p.devices.EnumerateDevices(ctx, domain.CapabilitySpeaker)
	if err != nil {
		cause := Classify(err)
		return p.failed(domain.CapabilitySpeaker, cause, fmt.Sprintf("Could not list audio outputs: %v", err))
	}
	if len(devices) == 0 {
		return p.failed(domain.CapabilitySpeaker, domain.CauseDeviceUnavailable, "No audio output devices found")
	}

	test := p.passed(domain.CapabilitySpeaker, fmt.Sprintf("Speaker available (%s found)", plural(len(devices), "device")))
	test.DeviceOptions = devices
	test.SelectedDeviceID = selectDevice(devices, preferred)
	return test
}

func (p *Prober) runNetwork(ctx context.Context) domain.CapabilityTest {
	info, ok, err := p.devices.NetworkInfo(ctx)
	if err != nil {
		p.logger.Warn("network heuristic unavailable", slog.String("error", err.Error()))
	}
	if err != nil || !ok {
		test := p.passed(domain.CapabilityNetwork, "Network check not available; assuming a good connection")
		test.Quality = domain.NetworkGood
		return test
	}

	quality := ClassifyNetwork(info, p.thresholds)
	detail := describeLink(info)
	switch quality {
	case domain.NetworkGood:
		test := p.passed(domain.CapabilityNetwork, "Good connection"+detail)
		test.Quality = quality
		return test
	case domain.NetworkFair:
		test := p.passed(domain.CapabilityNetwork, "Fair connection"+detail)
		test.Quality = quality
		return test
	default:
		test := p.failed(domain.CapabilityNetwork, domain.CauseNetworkDegraded, "Poor connection"+detail)
		test.Quality = domain.NetworkPoor
		return test
	}
}

// ClassifyNetwork grades a link from its effective type and downlink estimate.
func ClassifyNetwork(info ports.LinkInfo, t NetworkThresholds) domain.NetworkQuality {
	typ := strings.ToLower(info.EffectiveType)
	switch {
	case info.DownlinkMbps >= t.GoodMbps, typ == "4g", typ == "wifi", typ == "ethernet":
		return domain.NetworkGood
	case info.DownlinkMbps >= t.FairMbps, typ == "3g":
		return domain.NetworkFair
	default:
		return domain.NetworkPoor
	}
}

// Classify maps a device-layer error to a failure cause. Only an explicit
// permission refusal is reported as such; everything else is a device problem.
func Classify(err error) domain.FailureCause {
	if errors.Is(err, ports.ErrPermissionDenied) {
		return domain.CausePermissionDenied
	}
	return domain.CauseDeviceUnavailable
}

func (p *Prober) passed(kind domain.CapabilityKind, msg string) domain.CapabilityTest {
	test := domain.NewCapabilityTest(kind)
	test.State = domain.TestPassed
	test.Message = msg
	test.UpdatedAt = p.now()
	return test
}

func (p *Prober) failed(kind domain.CapabilityKind, cause domain.FailureCause, msg string) domain.CapabilityTest {
	test := domain.NewCapabilityTest(kind)
	test.State = domain.TestFailed
	test.Message = msg
	test.Cause = cause
	test.Remediation = domain.Remediation(kind, cause)
	test.UpdatedAt = p.now()
	return test
}

func captureFailureMessage(kind domain.CapabilityKind, cause domain.FailureCause, err error) string {
	switch {
	case cause == domain.CausePermissionDenied:
		return fmt.Sprintf("%s access was denied", kind.Title())
	case errors.Is(err, ports.ErrDeviceBusy):
		return fmt.Sprintf("%s is in use by another application", kind.Title())
	case errors.Is(err, ports.ErrDeviceNotFound):
		return fmt.Sprintf("No %s found", strings.ToLower(kind.Title()))
	default:
		return fmt.Sprintf("%s could not be started: %v", kind.Title(), err)
	}
}

// selectDevice keeps preferred when it is still present, else picks the first.
func selectDevice(devices []domain.DeviceInfo, preferred string) string {
	for _, d := range devices {
		if preferred != "" && d.ID == preferred {
			return preferred
		}
	}
	if len(devices) == 0 {
		return ""
	}
	return devices[0].ID
}

func describeLink(info ports.LinkInfo) string {
	switch {
	case info.EffectiveType != "" && info.DownlinkMbps > 0:
		return fmt.Sprintf(" (%s, %.1f Mbps)", info.EffectiveType, info.DownlinkMbps)
	case info.EffectiveType != "":
		return fmt.Sprintf(" (%s)", info.EffectiveType)
	case info.DownlinkMbps > 0:
		return fmt.Sprintf(" (%.1f Mbps)", info.DownlinkMbps)
	}
	return ""
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
