package domain

import "fmt"

// ReadinessSnapshot is the aggregate, explainable verdict on whether a session
// may enter Connecting.
type ReadinessSnapshot struct {
	Ready bool `json:"ready"`
	// BlockingReasons lists hard capabilities that failed.
	BlockingReasons []CapabilityKind `json:"blocking_reasons"`
	// SoftBlocks lists failures that only need a light confirmation (network).
	SoftBlocks []CapabilityKind `json:"soft_blocks"`
	// Pending lists hard capabilities that have not resolved yet.
	Pending []CapabilityKind `json:"pending"`
}

// BlockLevel is the strength of confirmation needed to join despite blocks.
type BlockLevel string

const (
	BlockNone BlockLevel = "none"
	BlockSoft BlockLevel = "soft"
	BlockHard BlockLevel = "hard"
)

// BlockLevel reports the strongest block in the snapshot. Unresolved hard
// capabilities count as hard blocks.
func (s ReadinessSnapshot) BlockLevel() BlockLevel {
	if len(s.BlockingReasons) > 0 || len(s.Pending) > 0 {
		return BlockHard
	}
	if len(s.SoftBlocks) > 0 || !s.Ready {
		return BlockSoft
	}
	return BlockNone
}

// Override is the confirmation a caller supplies when joining while not ready.
type Override string

const (
	OverrideNone Override = "none"
	// OverrideSoft confirms soft blocks only.
	OverrideSoft Override = "soft"
	// OverrideHard confirms every block, including failed camera, microphone
	// or speaker.
	OverrideHard Override = "hard"
)

// ParseOverride parses an override name; the empty string means none.
func ParseOverride(s string) (Override, error) {
	switch Override(s) {
	case "", OverrideNone:
		return OverrideNone, nil
	case OverrideSoft:
		return OverrideSoft, nil
	case OverrideHard:
		return OverrideHard, nil
	}
	return "", fmt.Errorf("unknown override %q", s)
}

// Covers reports whether the override permits joining at the given level.
func (o Override) Covers(level BlockLevel) bool {
	switch level {
	case BlockNone:
		return true
	case BlockSoft:
		return o == OverrideSoft || o == OverrideHard
	case BlockHard:
		return o == OverrideHard
	}
	return false
}
