// Package wsbridge drives a conferencing engine hosted by a separate bridge
// process over a WebSocket. The agent sends one init frame with the engine
// options, then commands; the bridge streams the engine's raw events back.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/televisit/internal/core/ports"
)

// Frame types on the wire.
const (
	FrameInit    = "init"
	FrameReady   = "ready"
	FrameError   = "error"
	FrameCommand = "command"
	FrameEvent   = "event"
	FrameDispose = "dispose"
)

// Commands understood by the bridge.
const (
	CommandToggleAudio = "toggleAudio"
	CommandToggleVideo = "toggleVideo"
	CommandHangup      = "hangup"
)

const defaultHandshakeTimeout = 10 * time.Second

// Frame is one message between agent and bridge.
type Frame struct {
	Type    string               `json:"type"`
	Server  string               `json:"server,omitempty"`
	Options *ports.EngineOptions `json:"options,omitempty"`
	Command string               `json:"command,omitempty"`
	Message string               `json:"message,omitempty"`

	ports.RawEngineEvent
}

// Option configures a Factory.
type Option func(*Factory)

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(f *Factory) { f.dialer = d }
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(f *Factory) { f.header = h }
}

// WithHandshakeTimeout bounds the wait for the bridge's ready frame.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.handshakeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// Factory implements ports.EngineFactory by dialing the bridge once per engine.
type Factory struct {
	url              string
	dialer           *websocket.Dialer
	header           http.Header
	handshakeTimeout time.Duration
	logger           *slog.Logger
}

var _ ports.EngineFactory = (*Factory)(nil)

// NewFactory creates a factory for the bridge at url (ws:// or wss://).
func NewFactory(url string, opts ...Option) *Factory {
	f := &Factory{
		url:              url,
		dialer:           websocket.DefaultDialer,
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewEngine dials the bridge, sends the init frame and waits for the bridge
// to report the engine constructed. ctx bounds only the handshake; the
// engine outlives it.
func (f *Factory) NewEngine(ctx context.Context, serverAddr string, opts ports.EngineOptions) (ports.ConferenceEngine, error) {
	ctx, cancel := context.WithTimeout(ctx, f.handshakeTimeout)
	defer cancel()

	conn, _, err := f.dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", f.url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(Frame{Type: FrameInit, Server: serverAddr, Options: &opts}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send init: %w", err)
	}

	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("await bridge ready: %w", err)
	}
	switch reply.Type {
	case FrameReady:
	case FrameError:
		conn.Close()
		return nil, fmt.Errorf("bridge rejected engine: %s", reply.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected %q frame during handshake", reply.Type)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})

	e := &Engine{
		conn:     conn,
		logger:   f.logger.With(slog.String("room", opts.RoomName)),
		handlers: make(map[int]func(ports.RawEngineEvent)),
		done:     make(chan struct{}),
	}
	return e, nil
}

// Engine is a conferencing engine reached through the bridge.
type Engine struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[int]func(ports.RawEngineEvent)
	next     int
	disposed bool

	// The read loop starts with the first subscriber so events the bridge
	// sends right after ready are not dispatched to nobody.
	startOnce   sync.Once
	disposeOnce sync.Once
	done        chan struct{}
}

// Subscribe registers a handler for raw engine events. Handlers run on the
// connection's read goroutine, one event at a time.
func (e *Engine) Subscribe(handler func(ports.RawEngineEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.handlers[id] = handler
	e.start()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

func (e *Engine) ToggleAudio(ctx context.Context) error { return e.command(ctx, CommandToggleAudio) }
func (e *Engine) ToggleVideo(ctx context.Context) error { return e.command(ctx, CommandToggleVideo) }
func (e *Engine) Hangup(ctx context.Context) error      { return e.command(ctx, CommandHangup) }

func (e *Engine) start() {
	e.startOnce.Do(func() { go e.readLoop() })
}

// Dispose tells the bridge to tear the engine down and closes the
// connection. It does not wait for the read goroutine, so it is safe to call
// from an event handler.
func (e *Engine) Dispose() error {
	var err error
	e.disposeOnce.Do(func() {
		e.mu.Lock()
		e.disposed = true
		e.handlers = map[int]func(ports.RawEngineEvent){}
		e.mu.Unlock()

		if werr := e.write(context.Background(), Frame{Type: FrameDispose}); werr != nil {
			e.logger.Debug("dispose frame not delivered", slog.String("error", werr.Error()))
		}
		err = e.conn.Close()
		// Reap the read loop even when nothing ever subscribed.
		e.start()
	})
	return err
}

// Done is closed when the read goroutine exits.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) command(ctx context.Context, name string) error {
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return errors.New("engine disposed")
	}
	return e.write(ctx, Frame{Type: FrameCommand, Command: name})
}

func (e *Engine) write(ctx context.Context, f Frame) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = e.conn.SetWriteDeadline(deadline)
	return e.conn.WriteJSON(f)
}

func (e *Engine) readLoop() {
	defer close(e.done)
	for {
		var f Frame
		if err := e.conn.ReadJSON(&f); err != nil {
			e.connectionLost(err)
			return
		}
		switch f.Type {
		case FrameEvent:
			e.dispatch(f.RawEngineEvent)
		case FrameError:
			e.dispatch(ports.RawEngineEvent{
				Name: ports.RawEventErrorOccurred,
				Data: map[string]any{"message": f.Message},
			})
		default:
			e.logger.Debug("ignoring bridge frame", slog.String("type", f.Type))
		}
	}
}

// connectionLost reports an unexpected disconnect as an engine error followed
// by the conference being left, so the session never waits on a dead bridge.
func (e *Engine) connectionLost(err error) {
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return
	}
	e.logger.Warn("bridge connection lost", slog.String("error", err.Error()))
	e.dispatch(ports.RawEngineEvent{
		Name: ports.RawEventErrorOccurred,
		Data: map[string]any{"message": "bridge connection lost"},
	})
	e.dispatch(ports.RawEngineEvent{Name: ports.RawEventConferenceLeft})
	_ = e.conn.Close()
}

func (e *Engine) dispatch(ev ports.RawEngineEvent) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	handlers := make([]func(ports.RawEngineEvent), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
