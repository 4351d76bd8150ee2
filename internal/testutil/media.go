package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

var streamSeq atomic.Int64

// FakeStream is an in-memory media stream.
type FakeStream struct {
	id       string
	kind     domain.CapabilityKind
	deviceID string
	stopped  atomic.Int32

	// ReadsAfterStop counts analyser reads made after Stop.
	ReadsAfterStop atomic.Int32
	// Level is the byte magnitude every analyser bin reports.
	Level atomic.Int32
	// OnStop runs on the first Stop call.
	OnStop func()
}

// NewFakeStream returns a live stream for deviceID.
func NewFakeStream(kind domain.CapabilityKind, deviceID string) *FakeStream {
	return &FakeStream{
		id:       fmt.Sprintf("stream-%d", streamSeq.Add(1)),
		kind:     kind,
		deviceID: deviceID,
	}
}

func (s *FakeStream) ID() string                  { return s.id }
func (s *FakeStream) Kind() domain.CapabilityKind { return s.kind }
func (s *FakeStream) DeviceID() string            { return s.deviceID }

func (s *FakeStream) Stop() error {
	if s.stopped.Add(1) == 1 && s.OnStop != nil {
		s.OnStop()
	}
	return nil
}

// Stopped reports whether Stop has been called.
func (s *FakeStream) Stopped() bool { return s.stopped.Load() > 0 }

// StopCount returns how many times Stop was called.
func (s *FakeStream) StopCount() int { return int(s.stopped.Load()) }

// NewAnalyser returns an analyser reporting the stream's current Level in
// every bin.
func (s *FakeStream) NewAnalyser() (ports.AudioAnalyser, error) {
	return &FakeAnalyser{stream: s, bins: 32}, nil
}

// FakeAnalyser samples a FakeStream.
type FakeAnalyser struct {
	stream *FakeStream
	bins   int
	closed atomic.Bool
}

func (a *FakeAnalyser) FrequencyBinCount() int { return a.bins }

func (a *FakeAnalyser) ByteFrequencyData(dst []byte) int {
	if a.stream.Stopped() {
		a.stream.ReadsAfterStop.Add(1)
	}
	n := min(len(dst), a.bins)
	lvl := byte(a.stream.Level.Load())
	for i := 0; i < n; i++ {
		dst[i] = lvl
	}
	return n
}

func (a *FakeAnalyser) Close() error {
	a.closed.Store(true)
	return nil
}

// Closed reports whether the analyser was closed.
func (a *FakeAnalyser) Closed() bool { return a.closed.Load() }

// FakeDevices is a scriptable ports.MediaDevices.
type FakeDevices struct {
	mu sync.Mutex

	Devices     map[domain.CapabilityKind][]domain.DeviceInfo
	AcquireErr  map[domain.CapabilityKind]error
	EnumErr     map[domain.CapabilityKind]error
	Link        ports.LinkInfo
	LinkOK      bool
	LinkErr     error
	ToneErr     error
	PanicOn     domain.CapabilityKind
	ToneCalls   []string
	Streams     []*FakeStream
	AcquireGate chan struct{}
}

// NewFakeDevices returns devices with one working camera, microphone and
// speaker, and a fast wifi link.
func NewFakeDevices() *FakeDevices {
	return &FakeDevices{
		Devices: map[domain.CapabilityKind][]domain.DeviceInfo{
			domain.CapabilityCamera:     {{ID: "cam-1", Label: "Built-in Camera", Kind: domain.CapabilityCamera}},
			domain.CapabilityMicrophone: {{ID: "mic-1", Label: "Built-in Microphone", Kind: domain.CapabilityMicrophone}},
			domain.CapabilitySpeaker:    {{ID: "spk-1", Label: "Built-in Speakers", Kind: domain.CapabilitySpeaker}},
		},
		AcquireErr: map[domain.CapabilityKind]error{},
		EnumErr:    map[domain.CapabilityKind]error{},
		Link:       ports.LinkInfo{EffectiveType: "wifi", DownlinkMbps: 50},
		LinkOK:     true,
	}
}

// SetAcquireErr scripts the error returned when acquiring kind.
func (f *FakeDevices) SetAcquireErr(kind domain.CapabilityKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AcquireErr[kind] = err
}

// SetLink scripts the network heuristic.
func (f *FakeDevices) SetLink(info ports.LinkInfo, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Link = info
	f.LinkOK = ok
}

func (f *FakeDevices) AcquireStream(ctx context.Context, kind domain.CapabilityKind, deviceID string) (ports.MediaStream, error) {
	f.mu.Lock()
	gate := f.AcquireGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PanicOn == kind {
		panic("device layer exploded")
	}
	if err := f.AcquireErr[kind]; err != nil {
		return nil, err
	}
	devices := f.Devices[kind]
	if len(devices) == 0 {
		return nil, fmt.Errorf("no %s: %w", kind, ports.ErrDeviceNotFound)
	}
	id := devices[0].ID
	if deviceID != "" {
		id = deviceID
	}
	s := NewFakeStream(kind, id)
	f.Streams = append(f.Streams, s)
	return s, nil
}

func (f *FakeDevices) EnumerateDevices(_ context.Context, kind domain.CapabilityKind) ([]domain.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PanicOn == kind && kind == domain.CapabilitySpeaker {
		panic("device layer exploded")
	}
	if err := f.EnumErr[kind]; err != nil {
		return nil, err
	}
	out := make([]domain.DeviceInfo, len(f.Devices[kind]))
	copy(out, f.Devices[kind])
	return out, nil
}

func (f *FakeDevices) NetworkInfo(context.Context) (ports.LinkInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Link, f.LinkOK, f.LinkErr
}

func (f *FakeDevices) PlayTestTone(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ToneCalls = append(f.ToneCalls, deviceID)
	return f.ToneErr
}

// AcquiredStreams returns every stream handed out so far.
func (f *FakeDevices) AcquiredStreams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeStream, len(f.Streams))
	copy(out, f.Streams)
	return out
}

// LiveStreams returns the streams that have not been stopped.
func (f *FakeDevices) LiveStreams() []*FakeStream {
	var live []*FakeStream
	for _, s := range f.AcquiredStreams() {
		if !s.Stopped() {
			live = append(live, s)
		}
	}
	return live
}
