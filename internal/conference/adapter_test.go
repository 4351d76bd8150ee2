package conference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
	"github.com/tjfontaine/televisit/internal/testutil"
)

func TestRoomName(t *testing.T) {
	if got := RoomName("televisit-", " appt-42 "); got != "televisit-appt-42" {
		t.Errorf("RoomName() = %q", got)
	}
	if RoomName("p-", "x") != RoomName("p-", "x") {
		t.Error("RoomName() must be deterministic")
	}
}

func TestTranslate(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  ports.RawEngineEvent
		want domain.EngineEvent
		ok   bool
	}{
		{
			name: "joined",
			raw:  ports.RawEngineEvent{Name: ports.RawEventConferenceJoined, Data: map[string]any{"id": "p1", "displayName": "Ana"}},
			want: domain.EngineEvent{Type: domain.EngineJoined, ParticipantID: "p1", DisplayName: "Ana", Timestamp: at},
			ok:   true,
		},
		{
			name: "left",
			raw:  ports.RawEngineEvent{Name: ports.RawEventConferenceLeft},
			want: domain.EngineEvent{Type: domain.EngineLeft, Timestamp: at},
			ok:   true,
		},
		{
			name: "participant left",
			raw:  ports.RawEngineEvent{Name: ports.RawEventParticipantLeft, Data: map[string]any{"id": "p2"}},
			want: domain.EngineEvent{Type: domain.EngineParticipantLeft, ParticipantID: "p2", Timestamp: at},
			ok:   true,
		},
		{
			name: "audio muted",
			raw:  ports.RawEngineEvent{Name: ports.RawEventAudioMuteChanged, Data: map[string]any{"muted": true}},
			want: domain.EngineEvent{Type: domain.EngineAudioMuteChanged, Muted: true, Timestamp: at},
			ok:   true,
		},
		{
			name: "screen share",
			raw:  ports.RawEngineEvent{Name: ports.RawEventScreenSharingChange, Data: map[string]any{"on": true}},
			want: domain.EngineEvent{Type: domain.EngineScreenShareChanged, Sharing: true, Timestamp: at},
			ok:   true,
		},
		{
			name: "error with nested message",
			raw:  ports.RawEngineEvent{Name: ports.RawEventErrorOccurred, Data: map[string]any{"error": map[string]any{"name": "conference.connectionError"}}},
			want: domain.EngineEvent{Type: domain.EngineError, Error: "conference.connectionError", Timestamp: at},
			ok:   true,
		},
		{
			name: "error without detail",
			raw:  ports.RawEngineEvent{Name: ports.RawEventErrorOccurred},
			want: domain.EngineEvent{Type: domain.EngineError, Error: "conference engine error", Timestamp: at},
			ok:   true,
		},
		{
			name: "ready to close",
			raw:  ports.RawEngineEvent{Name: ports.RawEventReadyToClose},
			want: domain.EngineEvent{Type: domain.EngineReadyToClose, Timestamp: at},
			ok:   true,
		},
		{
			name: "unknown",
			raw:  ports.RawEngineEvent{Name: "dominantSpeakerChanged"},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Translate(tt.raw, at)
			if ok != tt.ok {
				t.Fatalf("Translate() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Translate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	factory := &testutil.FakeEngineFactory{}
	a := NewAdapter(factory, "meet.example.org", WithRoomPrefix("clinic-"), WithStartMuted(true))

	sc := domain.SessionContext{AppointmentID: "appt-1", DisplayName: "Dr. Ray"}
	sel := domain.DeviceSelections{CameraID: "cam-1", MicrophoneID: "mic-1"}

	var mu sync.Mutex
	var got []domain.EngineEventType
	h, err := a.Initialize(context.Background(), sc, sel, func(ev domain.EngineEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Type)
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	engine := factory.Last()
	if engine.ServerAddr != "meet.example.org" {
		t.Errorf("server = %q", engine.ServerAddr)
	}
	want := ports.EngineOptions{RoomName: "clinic-appt-1", DisplayName: "Dr. Ray", StartMuted: true, Devices: sel}
	if engine.Options != want {
		t.Errorf("options = %+v, want %+v", engine.Options, want)
	}

	engine.Emit(ports.RawEventConferenceJoined, nil)
	engine.Emit("somethingElse", nil)

	mu.Lock()
	if len(got) != 1 || got[0] != domain.EngineJoined {
		t.Errorf("sink got %v", got)
	}
	mu.Unlock()

	if err := h.ToggleAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Hangup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cmds := engine.CommandLog(); len(cmds) != 2 || cmds[0] != "toggleAudio" || cmds[1] != "hangup" {
		t.Errorf("commands = %v", cmds)
	}
}

func TestInitializeFailure(t *testing.T) {
	factory := &testutil.FakeEngineFactory{Err: errors.New("dial tcp: refused")}
	a := NewAdapter(factory, "meet.example.org")

	h, err := a.Initialize(context.Background(), domain.SessionContext{AppointmentID: "a"}, domain.DeviceSelections{}, nil)
	if h != nil {
		t.Error("handle should be nil on failure")
	}
	de, ok := domain.AsError(err)
	if !ok || de.Type != domain.ErrorTypeEngineInitialization || !de.Retryable {
		t.Fatalf("error = %v, want retryable engine_initialization", err)
	}
}

func TestDisposeIdempotent(t *testing.T) {
	factory := &testutil.FakeEngineFactory{}
	a := NewAdapter(factory, "srv")

	var h *Handle
	var err error
	h, err = a.Initialize(context.Background(), domain.SessionContext{AppointmentID: "a"}, domain.DeviceSelections{}, func(ev domain.EngineEvent) {
		if ev.Type == domain.EngineReadyToClose {
			_ = h.Dispose()
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	factory.Last().Emit(ports.RawEventReadyToClose, nil)
	if err := h.Dispose(); err != nil {
		t.Fatal(err)
	}

	if n := factory.Last().DisposeCount(); n != 1 {
		t.Errorf("engine disposed %d times, want 1", n)
	}

	var nilHandle *Handle
	if err := nilHandle.Dispose(); err != nil {
		t.Errorf("nil Dispose() error = %v", err)
	}
}
