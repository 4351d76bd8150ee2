package host

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

type call struct {
	name  string
	args  []string
	stdin int
}

type fakeRunner struct {
	outputs map[string]string
	err     error
	calls   []call
}

func (f *fakeRunner) Run(_ context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	c := call{name: name, args: args}
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		c.stdin = len(b)
	}
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.outputs[name+" "+strings.Join(args, " ")]), nil
}

const pactlSources = "0\talsa_output.pci-0000_00_1f.3.analog-stereo.monitor\tmodule-alsa-card.c\ts16le 2ch 48000Hz\tSUSPENDED\n" +
	"1\talsa_input.pci-0000_00_1f.3.analog-stereo\tmodule-alsa-card.c\ts16le 2ch 48000Hz\tRUNNING\n" +
	"2\talsa_input.usb-Logitech_BRIO-02.mono-fallback\tmodule-alsa-card.c\ts16le 1ch 48000Hz\tIDLE\n"

func TestParsePactlShort(t *testing.T) {
	mics := ParsePactlShort([]byte(pactlSources), domain.CapabilityMicrophone)
	var ids []string
	for _, m := range mics {
		ids = append(ids, m.ID)
	}
	want := []string{"alsa_input.pci-0000_00_1f.3.analog-stereo", "alsa_input.usb-Logitech_BRIO-02.mono-fallback"}
	if !slices.Equal(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if mics[1].Label != "Logitech BRIO 02 (mono fallback)" {
		t.Errorf("label = %q", mics[1].Label)
	}

	sinks := ParsePactlShort([]byte(pactlSources), domain.CapabilitySpeaker)
	if len(sinks) != 3 {
		t.Errorf("sinks = %d, monitor names are only skipped for microphones", len(sinks))
	}
	if got := ParsePactlShort([]byte("\n\n"), domain.CapabilitySpeaker); len(got) != 0 {
		t.Errorf("blank output = %v", got)
	}
}

func TestClassifyLink(t *testing.T) {
	tests := []struct {
		iface    string
		wireless bool
		speed    float64
		want     ports.LinkInfo
	}{
		{iface: "eth0", speed: 1000, want: ports.LinkInfo{EffectiveType: "ethernet", DownlinkMbps: 1000}},
		{iface: "wlp2s0", wireless: true, speed: -1, want: ports.LinkInfo{EffectiveType: "wifi"}},
		{iface: "wwan0", want: ports.LinkInfo{EffectiveType: "4g"}},
		{iface: "ppp0", speed: 2, want: ports.LinkInfo{EffectiveType: "3g", DownlinkMbps: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.iface, func(t *testing.T) {
			if got := ClassifyLink(tt.iface, tt.wireless, tt.speed); got != tt.want {
				t.Errorf("ClassifyLink() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCamerasFromDeviceTree(t *testing.T) {
	dev, sys := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(dev, "video0"), "")
	writeFile(t, filepath.Join(dev, "video1"), "")
	writeFile(t, filepath.Join(dev, "video2"), "")
	writeFile(t, filepath.Join(sys, "class/video4linux/video0/name"), "Integrated Camera\n")
	writeFile(t, filepath.Join(sys, "class/video4linux/video0/index"), "0\n")
	writeFile(t, filepath.Join(sys, "class/video4linux/video1/index"), "1\n")

	d := New(WithRoots(dev, sys))
	cams, err := d.EnumerateDevices(context.Background(), domain.CapabilityCamera)
	if err != nil {
		t.Fatal(err)
	}
	if len(cams) != 2 {
		t.Fatalf("cameras = %+v, want video0 and video2", cams)
	}
	if cams[0].Label != "Integrated Camera" || cams[1].Label != "video2" {
		t.Errorf("labels = %q, %q", cams[0].Label, cams[1].Label)
	}
}

func TestAcquireCameraNoDevices(t *testing.T) {
	d := New(WithRoots(t.TempDir(), t.TempDir()))
	_, err := d.AcquireStream(context.Background(), domain.CapabilityCamera, "")
	if !errors.Is(err, ports.ErrDeviceNotFound) {
		t.Errorf("AcquireStream() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestAcquireCameraHoldsNode(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("V4L2 capture is linux only")
	}
	dev := t.TempDir()
	writeFile(t, filepath.Join(dev, "video0"), "")

	d := New(WithRoots(dev, t.TempDir()))
	s, err := d.AcquireStream(context.Background(), domain.CapabilityCamera, "")
	if err != nil {
		t.Fatalf("AcquireStream() error = %v", err)
	}
	if s.DeviceID() != filepath.Join(dev, "video0") || s.Kind() != domain.CapabilityCamera {
		t.Errorf("stream = %s/%s", s.Kind(), s.DeviceID())
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestAcquireUnknownPreferredDevice(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"pactl list short sources": pactlSources}}
	d := New(WithRunner(r))
	_, err := d.AcquireStream(context.Background(), domain.CapabilityMicrophone, "alsa_input.gone")
	if !errors.Is(err, ports.ErrDeviceNotFound) {
		t.Errorf("AcquireStream() error = %v", err)
	}
}

func TestNetworkInfo(t *testing.T) {
	sys := t.TempDir()
	writeFile(t, filepath.Join(sys, "class/net/lo/operstate"), "unknown\n")
	writeFile(t, filepath.Join(sys, "class/net/docker0/operstate"), "down\n")
	writeFile(t, filepath.Join(sys, "class/net/wlan0/operstate"), "up\n")
	writeFile(t, filepath.Join(sys, "class/net/wlan0/wireless/.keep"), "")

	d := New(WithRoots(t.TempDir(), sys))
	info, ok, err := d.NetworkInfo(context.Background())
	if err != nil || !ok {
		t.Fatalf("NetworkInfo() = %+v, %v, %v", info, ok, err)
	}
	if info.EffectiveType != "wifi" {
		t.Errorf("EffectiveType = %q", info.EffectiveType)
	}

	_, ok, err = New(WithRoots(t.TempDir(), t.TempDir())).NetworkInfo(context.Background())
	if ok || err != nil {
		t.Errorf("missing sysfs = %v, %v, want not ok", ok, err)
	}
}

func TestPlayTestTone(t *testing.T) {
	r := &fakeRunner{}
	d := New(WithRunner(r))
	if err := d.PlayTestTone(context.Background(), "alsa_output.usb-headset"); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 1 || r.calls[0].name != "pacat" {
		t.Fatalf("calls = %+v", r.calls)
	}
	if !slices.Contains(r.calls[0].args, "--device=alsa_output.usb-headset") {
		t.Errorf("args = %v", r.calls[0].args)
	}
	wantBytes := 2 * int(toneDuration.Seconds()*sampleRate)
	if r.calls[0].stdin != wantBytes {
		t.Errorf("tone bytes = %d, want %d", r.calls[0].stdin, wantBytes)
	}

	r.err = commandError("pacat", errors.New("exit status 1"), "Connection failure: Access denied")
	if err := d.PlayTestTone(context.Background(), ""); !errors.Is(err, ports.ErrPermissionDenied) {
		t.Errorf("PlayTestTone() error = %v", err)
	}
}

func TestCommandError(t *testing.T) {
	base := errors.New("exit status 1")
	tests := []struct {
		stderr string
		err    error
		want   error
	}{
		{stderr: "Connection failure: Access denied", err: base, want: ports.ErrPermissionDenied},
		{stderr: "pa_stream_connect_record() failed: Device or resource busy", err: base, want: ports.ErrDeviceBusy},
		{stderr: "Stream error: No such entity", err: base, want: ports.ErrDeviceNotFound},
		{err: exec.ErrNotFound, want: ports.ErrDeviceNotFound},
		{stderr: "something else", err: base, want: base},
	}
	for _, tt := range tests {
		if got := commandError("parec", tt.err, tt.stderr); !errors.Is(got, tt.want) {
			t.Errorf("commandError(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestPCMRingSnapshot(t *testing.T) {
	r := newPCMRing(4)
	dst := make([]int16, 4)

	r.write([]int16{1, 2})
	r.snapshot(dst)
	if !slices.Equal(dst, []int16{0, 0, 1, 2}) {
		t.Errorf("partial = %v", dst)
	}

	r.write([]int16{3, 4, 5})
	r.snapshot(dst)
	if !slices.Equal(dst, []int16{2, 3, 4, 5}) {
		t.Errorf("wrapped = %v", dst)
	}
}

func TestAnalyser(t *testing.T) {
	silence := NewAnalyser(func(dst []int16) { clear(dst) })
	bins := make([]byte, silence.FrequencyBinCount())
	if n := silence.ByteFrequencyData(bins); n != fftSize/2 {
		t.Fatalf("ByteFrequencyData() = %d bins", n)
	}
	for i, b := range bins {
		if b != 0 {
			t.Fatalf("silence bin %d = %d", i, b)
		}
	}

	// A sine centered on bin 32, quiet enough not to clip the byte scale.
	const bin = 32
	loud := NewAnalyser(func(dst []int16) {
		for i := range dst {
			dst[i] = int16(0.07 * math.MaxInt16 * math.Sin(2*math.Pi*bin*float64(i)/fftSize))
		}
	})
	loud.ByteFrequencyData(bins)
	peak := 0
	for i := range bins {
		if bins[i] > bins[peak] {
			peak = i
		}
	}
	if peak != bin || bins[peak] < 200 {
		t.Errorf("peak bin %d = %d, want bin %d well above the floor", peak, bins[peak], bin)
	}

	_ = loud.Close()
	if n := loud.ByteFrequencyData(bins); n != 0 {
		t.Errorf("closed analyser returned %d bins", n)
	}
}

func TestSineTone(t *testing.T) {
	tone := SineTone(440, 100*time.Millisecond, 16000, 0.5)
	if len(tone) != 2*1600 {
		t.Fatalf("len = %d", len(tone))
	}
	if tone[0] != 0 || tone[1] != 0 {
		t.Error("tone should fade in from silence")
	}
}

func fakeRecorder(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "parec")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMicrophoneCapture(t *testing.T) {
	rec := fakeRecorder(t, "exec cat /dev/zero")
	r := &fakeRunner{outputs: map[string]string{"pactl list short sources": pactlSources}}
	d := New(WithRunner(r), WithRecorder(rec))

	s, err := d.AcquireStream(context.Background(), domain.CapabilityMicrophone, "")
	if err != nil {
		t.Fatalf("AcquireStream() error = %v", err)
	}
	if s.DeviceID() != "alsa_input.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("DeviceID() = %q, want first non-monitor source", s.DeviceID())
	}

	audio, ok := s.(ports.AudioStream)
	if !ok {
		t.Fatalf("microphone stream %T cannot be analysed", s)
	}
	a, err := audio.NewAnalyser()
	if err != nil {
		t.Fatal(err)
	}
	bins := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(bins)
	for _, b := range bins {
		if b != 0 {
			t.Fatal("zero samples must analyse as silence")
		}
	}

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestMicrophoneCaptureDenied(t *testing.T) {
	rec := fakeRecorder(t, "echo 'Connection failure: Access denied' >&2; exit 1")
	r := &fakeRunner{outputs: map[string]string{"pactl list short sources": pactlSources}}
	d := New(WithRunner(r), WithRecorder(rec))

	_, err := d.AcquireStream(context.Background(), domain.CapabilityMicrophone, "")
	if !errors.Is(err, ports.ErrPermissionDenied) {
		t.Errorf("AcquireStream() error = %v, want ErrPermissionDenied", err)
	}
}
