// Package readiness aggregates capability test results into a join verdict.
package readiness

import (
	"slices"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

// Recompute derives the readiness snapshot from the current capability tests.
// It is pure and safe to call against a partially resolved set: a missing
// kind is treated as Pending.
//
// Camera, microphone and speaker are hard capabilities. Any of them Failed is
// listed in BlockingReasons; any of them not yet resolved is listed in Pending
// and keeps Ready false. A Failed network is listed in SoftBlocks and also
// keeps Ready false, but can be confirmed past with a soft override.
func Recompute(tests map[domain.CapabilityKind]domain.CapabilityTest) domain.ReadinessSnapshot {
	snap := domain.ReadinessSnapshot{
		BlockingReasons: []domain.CapabilityKind{},
		SoftBlocks:      []domain.CapabilityKind{},
		Pending:         []domain.CapabilityKind{},
	}

	for _, kind := range domain.HardCapabilities {
		test, ok := tests[kind]
		switch {
		case !ok || !test.State.Terminal():
			snap.Pending = append(snap.Pending, kind)
		case test.State == domain.TestFailed:
			snap.BlockingReasons = append(snap.BlockingReasons, kind)
		}
	}

	if test, ok := tests[domain.CapabilityNetwork]; ok && test.State == domain.TestFailed {
		snap.SoftBlocks = append(snap.SoftBlocks, domain.CapabilityNetwork)
	}

	snap.Ready = len(snap.BlockingReasons) == 0 && len(snap.Pending) == 0 && len(snap.SoftBlocks) == 0
	return snap
}

// Equal reports whether two snapshots carry the same verdict.
func Equal(a, b domain.ReadinessSnapshot) bool {
	return a.Ready == b.Ready &&
		slices.Equal(a.BlockingReasons, b.BlockingReasons) &&
		slices.Equal(a.SoftBlocks, b.SoftBlocks) &&
		slices.Equal(a.Pending, b.Pending)
}
