// Package host implements ports.MediaDevices on a desktop host: V4L2 device
// nodes for cameras, PulseAudio (or PipeWire's pulse server) for microphones
// and speakers, and sysfs for the network link.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

const (
	sampleRate        = 16000
	defaultStartWait  = 2 * time.Second
	toneFrequencyHz   = 440
	toneDuration      = 600 * time.Millisecond
	toneAmplitude     = 0.3
	pulseSampleFormat = "s16le"
)

// Runner executes an external command and returns its stdout. stdin may be nil.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, commandError(name, err, stderr.String())
	}
	return out, nil
}

// Option configures Devices.
type Option func(*Devices)

// WithRunner replaces the command runner used for pactl and pacat.
func WithRunner(r Runner) Option {
	return func(d *Devices) { d.runner = r }
}

// WithRoots points device discovery at alternative /dev and /sys trees.
func WithRoots(devRoot, sysRoot string) Option {
	return func(d *Devices) {
		d.devRoot = devRoot
		d.sysRoot = sysRoot
	}
}

// WithRecorder sets the capture command used for microphone streams.
func WithRecorder(name string) Option {
	return func(d *Devices) { d.recorder = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Devices) { d.logger = logger }
}

// Devices is the host's media surface.
type Devices struct {
	runner    Runner
	devRoot   string
	sysRoot   string
	recorder  string
	startWait time.Duration
	logger    *slog.Logger
}

var _ ports.MediaDevices = (*Devices)(nil)

// New creates host devices with the real /dev and /sys trees.
func New(opts ...Option) *Devices {
	d := &Devices{
		runner:    execRunner{},
		devRoot:   "/dev",
		sysRoot:   "/sys",
		recorder:  "parec",
		startWait: defaultStartWait,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EnumerateDevices lists devices of kind without opening them.
func (d *Devices) EnumerateDevices(ctx context.Context, kind domain.CapabilityKind) ([]domain.DeviceInfo, error) {
	switch kind {
	case domain.CapabilityCamera:
		return d.cameras()
	case domain.CapabilityMicrophone:
		return d.pulseDevices(ctx, "sources", kind)
	case domain.CapabilitySpeaker:
		return d.pulseDevices(ctx, "sinks", kind)
	default:
		return nil, fmt.Errorf("no devices of kind %q", kind)
	}
}

// AcquireStream opens a camera node or starts a microphone capture.
func (d *Devices) AcquireStream(ctx context.Context, kind domain.CapabilityKind, deviceID string) (ports.MediaStream, error) {
	devices, err := d.EnumerateDevices(ctx, kind)
	if err != nil {
		return nil, err
	}
	id, err := pickDevice(kind, devices, deviceID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case domain.CapabilityCamera:
		f, err := openCapture(id)
		if err != nil {
			return nil, err
		}
		return newStream(kind, id, f.Close), nil
	case domain.CapabilityMicrophone:
		return d.startCapture(ctx, id)
	default:
		return nil, fmt.Errorf("cannot capture from %s", kind)
	}
}

// NetworkInfo reports the first non-loopback interface that is up.
func (d *Devices) NetworkInfo(ctx context.Context) (ports.LinkInfo, bool, error) {
	base := filepath.Join(d.sysRoot, "class", "net")
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ports.LinkInfo{}, false, nil
		}
		return ports.LinkInfo{}, false, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "lo" {
			continue
		}
		dir := filepath.Join(base, name)
		if readTrimmed(filepath.Join(dir, "operstate")) != "up" {
			continue
		}
		_, werr := os.Stat(filepath.Join(dir, "wireless"))
		speed, _ := strconv.ParseFloat(readTrimmed(filepath.Join(dir, "speed")), 64)
		return ClassifyLink(name, werr == nil, speed), true, nil
	}
	return ports.LinkInfo{}, false, nil
}

// ClassifyLink maps an interface to the runtime's link heuristic. speedMbps
// is the negotiated link speed; non-positive values mean unknown.
func ClassifyLink(iface string, wireless bool, speedMbps float64) ports.LinkInfo {
	info := ports.LinkInfo{EffectiveType: "ethernet"}
	switch {
	case wireless:
		info.EffectiveType = "wifi"
	case strings.HasPrefix(iface, "wwan"), strings.HasPrefix(iface, "rmnet"):
		info.EffectiveType = "4g"
	case strings.HasPrefix(iface, "ppp"):
		info.EffectiveType = "3g"
	}
	if speedMbps > 0 {
		info.DownlinkMbps = speedMbps
	}
	return info
}

// PlayTestTone pipes a short sine burst to the sink.
func (d *Devices) PlayTestTone(ctx context.Context, deviceID string) error {
	args := []string{"--playback", "--raw", "--format=" + pulseSampleFormat,
		"--rate=" + strconv.Itoa(sampleRate), "--channels=1"}
	if deviceID != "" {
		args = append(args, "--device="+deviceID)
	}
	tone := SineTone(toneFrequencyHz, toneDuration, sampleRate, toneAmplitude)
	if _, err := d.runner.Run(ctx, bytes.NewReader(tone), "pacat", args...); err != nil {
		return fmt.Errorf("play test tone: %w", err)
	}
	return nil
}

func (d *Devices) cameras() ([]domain.DeviceInfo, error) {
	nodes, err := filepath.Glob(filepath.Join(d.devRoot, "video*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(nodes)

	var out []domain.DeviceInfo
	for _, node := range nodes {
		sys := filepath.Join(d.sysRoot, "class", "video4linux", filepath.Base(node))
		// Drivers expose metadata nodes next to the capture node; only
		// index 0 captures frames.
		if idx := readTrimmed(filepath.Join(sys, "index")); idx != "" && idx != "0" {
			continue
		}
		label := readTrimmed(filepath.Join(sys, "name"))
		if label == "" {
			label = filepath.Base(node)
		}
		out = append(out, domain.DeviceInfo{ID: node, Label: label, Kind: domain.CapabilityCamera})
	}
	return out, nil
}

func (d *Devices) pulseDevices(ctx context.Context, what string, kind domain.CapabilityKind) ([]domain.DeviceInfo, error) {
	out, err := d.runner.Run(ctx, nil, "pactl", "list", "short", what)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	return ParsePactlShort(out, kind), nil
}

// ParsePactlShort parses `pactl list short sources|sinks`. Monitor sources
// are skipped for microphones.
func ParsePactlShort(out []byte, kind domain.CapabilityKind) []domain.DeviceInfo {
	var devices []domain.DeviceInfo
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 || fields[1] == "" {
			continue
		}
		name := fields[1]
		if kind == domain.CapabilityMicrophone && strings.HasSuffix(name, ".monitor") {
			continue
		}
		devices = append(devices, domain.DeviceInfo{ID: name, Label: pulseLabel(name), Kind: kind})
	}
	return devices
}

// pulseLabel turns alsa_input.usb-Logitech_BRIO-02.analog-stereo into
// "Logitech BRIO 02 (analog stereo)".
func pulseLabel(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return name
	}
	card := parts[1]
	for _, prefix := range []string{"usb-", "pci-", "bluez_card-"} {
		card = strings.TrimPrefix(card, prefix)
	}
	card = strings.NewReplacer("_", " ", "-", " ").Replace(card)
	if len(parts) > 2 {
		return fmt.Sprintf("%s (%s)", card, strings.ReplaceAll(parts[len(parts)-1], "-", " "))
	}
	return card
}

func pickDevice(kind domain.CapabilityKind, devices []domain.DeviceInfo, preferred string) (string, error) {
	if len(devices) == 0 {
		return "", fmt.Errorf("no %s attached: %w", kind, ports.ErrDeviceNotFound)
	}
	if preferred == "" {
		return devices[0].ID, nil
	}
	for _, dev := range devices {
		if dev.ID == preferred {
			return preferred, nil
		}
	}
	return "", fmt.Errorf("%s %s: %w", kind, preferred, ports.ErrDeviceNotFound)
}

// commandError maps the failure of an external tool onto the media errors
// probes classify.
func commandError(name string, err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s not installed: %w", name, ports.ErrDeviceNotFound)
	}
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "access denied"), strings.Contains(lower, "permission denied"):
		return fmt.Errorf("%s: %s: %w", name, msg, ports.ErrPermissionDenied)
	case strings.Contains(lower, "busy"):
		return fmt.Errorf("%s: %s: %w", name, msg, ports.ErrDeviceBusy)
	case strings.Contains(lower, "no such entity"), strings.Contains(lower, "no such device"):
		return fmt.Errorf("%s: %s: %w", name, msg, ports.ErrDeviceNotFound)
	case msg != "":
		return fmt.Errorf("%s: %s: %w", name, msg, err)
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// stream is a held capture device.
type stream struct {
	id       string
	kind     domain.CapabilityKind
	deviceID string

	once    sync.Once
	release func() error
	err     error
}

func newStream(kind domain.CapabilityKind, deviceID string, release func() error) *stream {
	return &stream{id: uuid.NewString(), kind: kind, deviceID: deviceID, release: release}
}

func (s *stream) ID() string                  { return s.id }
func (s *stream) Kind() domain.CapabilityKind { return s.kind }
func (s *stream) DeviceID() string            { return s.deviceID }

func (s *stream) Stop() error {
	s.once.Do(func() { s.err = s.release() })
	return s.err
}
