package host

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

const (
	fftSize     = 512
	minDecibels = -100.0
	maxDecibels = -30.0
)

// startCapture runs the recorder against source and waits until it delivers
// audio or exits. The process is deliberately not bound to ctx: the stream
// lives until Stop, long after the probe that acquired it returns.
func (d *Devices) startCapture(ctx context.Context, source string) (ports.MediaStream, error) {
	cmd := exec.Command(d.recorder, "--raw", "--format="+pulseSampleFormat,
		"--rate="+strconv.Itoa(sampleRate), "--channels=1", "--latency-msec=50",
		"--device="+source)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, commandError(d.recorder, err, "")
	}

	ring := newPCMRing(fftSize)
	first := make(chan struct{})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		pump(stdout, ring, first)
	}()
	exited := make(chan error, 1)
	go func() {
		<-readDone
		exited <- cmd.Wait()
	}()

	kill := func() error {
		_ = cmd.Process.Kill()
		<-readDone
		return nil
	}

	select {
	case <-first:
	case err := <-exited:
		if err == nil {
			err = errors.New("recorder exited")
		}
		return nil, commandError(d.recorder, err, stderr.String())
	case <-time.After(d.startWait):
		_ = kill()
		return nil, fmt.Errorf("%s produced no audio from %s: %w", d.recorder, source, ports.ErrDeviceBusy)
	case <-ctx.Done():
		_ = kill()
		return nil, ctx.Err()
	}

	d.logger.Debug("microphone capture started", slog.String("source", source))
	s := &audioStream{ring: ring}
	s.stream = newStream(domain.CapabilityMicrophone, source, kill)
	return s, nil
}

// pump decodes little-endian 16-bit PCM from r into ring until r fails.
func pump(r io.Reader, ring *pcmRing, first chan<- struct{}) {
	buf := make([]byte, 4096)
	var carry []byte
	signalled := false
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			whole := len(data) &^ 1
			samples := make([]int16, whole/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
			}
			carry = append([]byte(nil), data[whole:]...)
			ring.write(samples)
			if !signalled && len(samples) > 0 {
				close(first)
				signalled = true
			}
		}
		if err != nil {
			return
		}
	}
}

// audioStream is a microphone capture that can be analysed.
type audioStream struct {
	*stream
	ring *pcmRing
}

func (s *audioStream) NewAnalyser() (ports.AudioAnalyser, error) {
	return NewAnalyser(s.ring.snapshot), nil
}

// pcmRing keeps the most recent samples.
type pcmRing struct {
	mu   sync.Mutex
	buf  []int16
	pos  int
	full bool
}

func newPCMRing(size int) *pcmRing {
	return &pcmRing{buf: make([]int16, size)}
}

func (r *pcmRing) write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		r.buf[r.pos] = s
		r.pos = (r.pos + 1) % len(r.buf)
		if r.pos == 0 {
			r.full = true
		}
	}
}

// snapshot copies the window oldest first. Missing history reads as silence.
func (r *pcmRing) snapshot(dst []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.buf)
	if !r.full {
		clear(dst)
		copy(dst[n-r.pos:], r.buf[:r.pos])
		return
	}
	copy(dst, r.buf[r.pos:])
	copy(dst[n-r.pos:], r.buf[:r.pos])
}

// Analyser computes byte frequency data the way a browser analyser node
// does: Blackman window, magnitude spectrum, decibels mapped linearly from
// [minDecibels, maxDecibels] onto [0, 255].
type Analyser struct {
	read    func([]int16)
	samples []int16
	window  []float64
	seq     []float64
	coeffs  []complex128
	fft     *fourier.FFT
	mu      sync.Mutex
	closed  bool
}

// NewAnalyser returns an analyser over fftSize samples supplied by read.
func NewAnalyser(read func([]int16)) *Analyser {
	ones := make([]float64, fftSize)
	for i := range ones {
		ones[i] = 1
	}
	return &Analyser{
		read:    read,
		samples: make([]int16, fftSize),
		window:  window.Blackman(ones),
		seq:     make([]float64, fftSize),
		coeffs:  make([]complex128, fftSize/2+1),
		fft:     fourier.NewFFT(fftSize),
	}
}

func (a *Analyser) FrequencyBinCount() int { return fftSize / 2 }

func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0
	}
	a.read(a.samples)
	for i, s := range a.samples {
		a.seq[i] = float64(s) / 32768 * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	n := min(len(dst), fftSize/2)
	for k := 0; k < n; k++ {
		dst[k] = scaleDecibels(cmplx.Abs(a.coeffs[k]) / fftSize)
	}
	return n
}

func (a *Analyser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func scaleDecibels(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return byte(scaled)
	}
}

// SineTone renders a mono 16-bit little-endian sine burst with 10ms fades.
func SineTone(freqHz float64, d time.Duration, rate int, amplitude float64) []byte {
	n := int(d.Seconds() * float64(rate))
	fade := rate / 100
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		gain := amplitude
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if n-i < fade {
			gain *= float64(n-i) / float64(fade)
		}
		v := int16(gain * math.MaxInt16 * math.Sin(2*math.Pi*freqHz*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
