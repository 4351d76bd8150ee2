package readiness

import (
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

func testsWith(states map[domain.CapabilityKind]domain.TestState) map[domain.CapabilityKind]domain.CapabilityTest {
	out := make(map[domain.CapabilityKind]domain.CapabilityTest, len(states))
	for kind, state := range states {
		test := domain.NewCapabilityTest(kind)
		test.State = state
		out[kind] = test
	}
	return out
}

func allPassed() map[domain.CapabilityKind]domain.TestState {
	return map[domain.CapabilityKind]domain.TestState{
		domain.CapabilityCamera:     domain.TestPassed,
		domain.CapabilityMicrophone: domain.TestPassed,
		domain.CapabilitySpeaker:    domain.TestPassed,
		domain.CapabilityNetwork:    domain.TestPassed,
	}
}

func TestRecompute(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(map[domain.CapabilityKind]domain.TestState)
		wantReady    bool
		wantBlocking []domain.CapabilityKind
		wantSoft     []domain.CapabilityKind
		wantPending  []domain.CapabilityKind
		wantLevel    domain.BlockLevel
	}{
		{
			name:      "all passed",
			mutate:    func(map[domain.CapabilityKind]domain.TestState) {},
			wantReady: true,
			wantLevel: domain.BlockNone,
		},
		{
			name: "camera denied",
			mutate: func(m map[domain.CapabilityKind]domain.TestState) {
				m[domain.CapabilityCamera] = domain.TestFailed
			},
			wantBlocking: []domain.CapabilityKind{domain.CapabilityCamera},
			wantLevel:    domain.BlockHard,
		},
		{
			name: "network failed only",
			mutate: func(m map[domain.CapabilityKind]domain.TestState) {
				m[domain.CapabilityNetwork] = domain.TestFailed
			},
			wantSoft:  []domain.CapabilityKind{domain.CapabilityNetwork},
			wantLevel: domain.BlockSoft,
		},
		{
			name: "network pending does not block",
			mutate: func(m map[domain.CapabilityKind]domain.TestState) {
				m[domain.CapabilityNetwork] = domain.TestTesting
			},
			wantReady: true,
			wantLevel: domain.BlockNone,
		},
		{
			name: "microphone still testing",
			mutate: func(m map[domain.CapabilityKind]domain.TestState) {
				m[domain.CapabilityMicrophone] = domain.TestTesting
			},
			wantPending: []domain.CapabilityKind{domain.CapabilityMicrophone},
			wantLevel:   domain.BlockHard,
		},
		{
			name: "speaker missing from set",
			mutate: func(m map[domain.CapabilityKind]domain.TestState) {
				delete(m, domain.CapabilitySpeaker)
			},
			wantPending: []domain.CapabilityKind{domain.CapabilitySpeaker},
			wantLevel:   domain.BlockHard,
		},
		{
			name: "mixed failures keep display order",
			mutate: func(m map[domain.CapabilityKind]domain.TestState) {
				m[domain.CapabilitySpeaker] = domain.TestFailed
				m[domain.CapabilityCamera] = domain.TestFailed
				m[domain.CapabilityNetwork] = domain.TestFailed
			},
			wantBlocking: []domain.CapabilityKind{domain.CapabilityCamera, domain.CapabilitySpeaker},
			wantSoft:     []domain.CapabilityKind{domain.CapabilityNetwork},
			wantLevel:    domain.BlockHard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := allPassed()
			tt.mutate(states)
			got := Recompute(testsWith(states))

			if got.Ready != tt.wantReady {
				t.Errorf("Ready = %v, want %v", got.Ready, tt.wantReady)
			}
			if !slices.Equal(got.BlockingReasons, orEmpty(tt.wantBlocking)) {
				t.Errorf("BlockingReasons = %v, want %v", got.BlockingReasons, tt.wantBlocking)
			}
			if !slices.Equal(got.SoftBlocks, orEmpty(tt.wantSoft)) {
				t.Errorf("SoftBlocks = %v, want %v", got.SoftBlocks, tt.wantSoft)
			}
			if !slices.Equal(got.Pending, orEmpty(tt.wantPending)) {
				t.Errorf("Pending = %v, want %v", got.Pending, tt.wantPending)
			}
			if level := got.BlockLevel(); level != tt.wantLevel {
				t.Errorf("BlockLevel() = %v, want %v", level, tt.wantLevel)
			}
		})
	}
}

func TestRecomputeEmptySlicesNotNil(t *testing.T) {
	got := Recompute(nil)
	if got.BlockingReasons == nil || got.SoftBlocks == nil || got.Pending == nil {
		t.Fatalf("Recompute(nil) returned nil slices: %+v", got)
	}
	if got.Ready {
		t.Error("Recompute(nil) must not be ready")
	}
}

func TestEqual(t *testing.T) {
	a := Recompute(testsWith(allPassed()))
	b := Recompute(testsWith(allPassed()))
	if !Equal(a, b) {
		t.Error("Equal() = false for identical inputs")
	}

	states := allPassed()
	states[domain.CapabilityCamera] = domain.TestFailed
	if Equal(a, Recompute(testsWith(states))) {
		t.Error("Equal() = true for different verdicts")
	}
}

func orEmpty(s []domain.CapabilityKind) []domain.CapabilityKind {
	if s == nil {
		return []domain.CapabilityKind{}
	}
	return s
}

var genState = gen.OneConstOf(domain.TestPending, domain.TestTesting, domain.TestPassed, domain.TestFailed)

// Property: for any assignment of states, blocking reasons are exactly the
// failed hard capabilities, and ready is false whenever one of them failed.
func TestRecomputeBlockingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("blocking reasons are the failed hard capabilities", prop.ForAll(
		func(camera, mic, speaker, network domain.TestState) bool {
			states := map[domain.CapabilityKind]domain.TestState{
				domain.CapabilityCamera:     camera,
				domain.CapabilityMicrophone: mic,
				domain.CapabilitySpeaker:    speaker,
				domain.CapabilityNetwork:    network,
			}
			snap := Recompute(testsWith(states))

			var failed []domain.CapabilityKind
			for _, kind := range domain.HardCapabilities {
				if states[kind] == domain.TestFailed {
					failed = append(failed, kind)
				}
			}
			if !slices.Equal(snap.BlockingReasons, orEmpty(failed)) {
				return false
			}
			if len(failed) > 0 && snap.Ready {
				return false
			}
			return true
		},
		genState, genState, genState, genState,
	))

	properties.Property("ready only when every hard capability passed", prop.ForAll(
		func(camera, mic, speaker, network domain.TestState) bool {
			states := map[domain.CapabilityKind]domain.TestState{
				domain.CapabilityCamera:     camera,
				domain.CapabilityMicrophone: mic,
				domain.CapabilitySpeaker:    speaker,
				domain.CapabilityNetwork:    network,
			}
			snap := Recompute(testsWith(states))
			allHardPassed := camera == domain.TestPassed && mic == domain.TestPassed && speaker == domain.TestPassed
			want := allHardPassed && network != domain.TestFailed
			return snap.Ready == want
		},
		genState, genState, genState, genState,
	))

	properties.Property("a hard override always covers the verdict", prop.ForAll(
		func(camera, mic, speaker, network domain.TestState) bool {
			snap := Recompute(testsWith(map[domain.CapabilityKind]domain.TestState{
				domain.CapabilityCamera:     camera,
				domain.CapabilityMicrophone: mic,
				domain.CapabilitySpeaker:    speaker,
				domain.CapabilityNetwork:    network,
			}))
			return domain.OverrideHard.Covers(snap.BlockLevel())
		},
		genState, genState, genState, genState,
	))

	properties.TestingRun(t)
}
