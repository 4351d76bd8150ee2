package session

import (
	"github.com/tjfontaine/televisit/internal/core/domain"
)

// Trigger is an input to the call state machine.
type Trigger string

const (
	TriggerJoin               Trigger = "join"
	TriggerEngineJoined       Trigger = "engine_joined"
	TriggerEngineError        Trigger = "engine_error"
	TriggerEndCall            Trigger = "end_call"
	TriggerEngineLeft         Trigger = "engine_left"
	TriggerEngineReadyToClose Trigger = "engine_ready_to_close"
	TriggerFeedbackDone       Trigger = "feedback_done"
)

// Transition is the result of firing a trigger.
type Transition struct {
	From    domain.CallState
	To      domain.CallState
	Trigger Trigger
	// Changed is false when the trigger was accepted as a no-op.
	Changed bool
}

type edge struct {
	from    domain.CallState
	trigger Trigger
}

var edges = map[edge]domain.CallState{
	{domain.CallPreview, TriggerJoin}:                  domain.CallConnecting,
	{domain.CallConnecting, TriggerEngineJoined}:       domain.CallInCall,
	{domain.CallConnecting, TriggerEngineError}:        domain.CallEnding,
	{domain.CallConnecting, TriggerEndCall}:            domain.CallEnding,
	{domain.CallConnecting, TriggerEngineLeft}:         domain.CallEnding,
	{domain.CallConnecting, TriggerEngineReadyToClose}: domain.CallEnding,
	{domain.CallInCall, TriggerEndCall}:                domain.CallEnding,
	{domain.CallInCall, TriggerEngineLeft}:             domain.CallEnding,
	{domain.CallInCall, TriggerEngineReadyToClose}:     domain.CallEnding,
	{domain.CallEnding, TriggerFeedbackDone}:           domain.CallClosed,
}

// Machine is the pure call lifecycle:
//
//	Preview -> Connecting -> InCall -> Ending -> Closed
//
// Connecting may also go straight to Ending when the engine fails or the user
// ends the call before it connects. Once a call is winding down, repeated end
// triggers are no-ops, and nothing moves a Closed machine.
type Machine struct {
	state   domain.CallState
	history []domain.CallState
}

// NewMachine returns a machine in Preview.
func NewMachine() *Machine {
	return &Machine{
		state:   domain.CallPreview,
		history: []domain.CallState{domain.CallPreview},
	}
}

// State returns the current state.
func (m *Machine) State() domain.CallState { return m.state }

// History returns every state entered, starting with Preview.
func (m *Machine) History() []domain.CallState {
	out := make([]domain.CallState, len(m.history))
	copy(out, m.history)
	return out
}

// Fire applies a trigger. Triggers not valid in the current state return an
// invalid-transition error, except those that are harmless repeats while the
// call is ending or closed, which return an unchanged Transition.
func (m *Machine) Fire(t Trigger) (Transition, error) {
	from := m.state
	if to, ok := edges[edge{from, t}]; ok {
		m.state = to
		m.history = append(m.history, to)
		return Transition{From: from, To: to, Trigger: t, Changed: true}, nil
	}
	if ignored(from, t) {
		return Transition{From: from, To: from, Trigger: t}, nil
	}
	return Transition{From: from, To: from, Trigger: t}, domain.ErrInvalidTransition(from, string(t))
}

func ignored(state domain.CallState, t Trigger) bool {
	switch state {
	case domain.CallClosed:
		return true
	case domain.CallEnding:
		switch t {
		case TriggerEndCall, TriggerEngineLeft, TriggerEngineReadyToClose, TriggerEngineError, TriggerEngineJoined:
			return true
		}
	}
	return false
}
