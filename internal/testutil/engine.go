package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// FakeEngine is a ports.ConferenceEngine driven by Emit.
type FakeEngine struct {
	mu       sync.Mutex
	handlers map[int]func(ports.RawEngineEvent)
	next     int

	ServerAddr string
	Options    ports.EngineOptions
	Commands   []string
	Disposed   int
	CommandErr error
}

func (e *FakeEngine) Subscribe(handler func(ports.RawEngineEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[int]func(ports.RawEngineEvent))
	}
	id := e.next
	e.next++
	e.handlers[id] = handler
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

// Emit delivers a raw event to every subscribed handler on the caller's goroutine.
func (e *FakeEngine) Emit(name string, data map[string]any) {
	e.mu.Lock()
	handlers := make([]func(ports.RawEngineEvent), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(ports.RawEngineEvent{Name: name, Data: data})
	}
}

func (e *FakeEngine) command(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = append(e.Commands, name)
	return e.CommandErr
}

func (e *FakeEngine) ToggleAudio(context.Context) error { return e.command("toggleAudio") }
func (e *FakeEngine) ToggleVideo(context.Context) error { return e.command("toggleVideo") }
func (e *FakeEngine) Hangup(context.Context) error      { return e.command("hangup") }

func (e *FakeEngine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Disposed++
	e.handlers = nil
	return nil
}

// CommandLog returns the commands issued so far.
func (e *FakeEngine) CommandLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.Commands))
	copy(out, e.Commands)
	return out
}

// DisposeCount returns how many times Dispose was called.
func (e *FakeEngine) DisposeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Disposed
}

// FakeEngineFactory hands out FakeEngines and remembers them.
type FakeEngineFactory struct {
	mu      sync.Mutex
	Err     error
	Engines []*FakeEngine
}

func (f *FakeEngineFactory) NewEngine(_ context.Context, serverAddr string, opts ports.EngineOptions) (ports.ConferenceEngine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	e := &FakeEngine{ServerAddr: serverAddr, Options: opts}
	f.Engines = append(f.Engines, e)
	return e, nil
}

// Last returns the most recently created engine, or nil.
func (f *FakeEngineFactory) Last() *FakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Engines) == 0 {
		return nil
	}
	return f.Engines[len(f.Engines)-1]
}

// FakeAppointments is an in-memory ports.AppointmentSource.
type FakeAppointments struct {
	mu    sync.Mutex
	Items map[string]*domain.Appointment
	Err   error
	Calls int
}

func (f *FakeAppointments) GetAppointment(_ context.Context, id string) (*domain.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	appt, ok := f.Items[id]
	if !ok {
		return nil, domain.ErrNotFound("appointment " + id + " not found")
	}
	cp := *appt
	return &cp, nil
}

// ErrSinkDown is the default failure of a failing FakeFeedbackSink.
var ErrSinkDown = errors.New("feedback service unavailable")

// FakeFeedbackSink records submissions and can be made to fail.
type FakeFeedbackSink struct {
	mu          sync.Mutex
	Err         error
	Submissions []*domain.FeedbackSubmission
}

func (f *FakeFeedbackSink) SubmitFeedback(_ context.Context, sub *domain.FeedbackSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	cp := *sub
	f.Submissions = append(f.Submissions, &cp)
	return nil
}

// SetErr changes the scripted failure.
func (f *FakeFeedbackSink) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Received returns the accepted submissions.
func (f *FakeFeedbackSink) Received() []*domain.FeedbackSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.FeedbackSubmission, len(f.Submissions))
	copy(out, f.Submissions)
	return out
}
