package session

import (
	"sync"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

// Builder constructs a controller for a loaded session context.
type Builder func(sc domain.SessionContext) *Controller

// Registry tracks call attempts per appointment and allows at most one
// non-closed attempt for each.
type Registry struct {
	build Builder

	mu       sync.Mutex
	current  map[string]*Controller
	previous map[string][]domain.CallSession
}

// NewRegistry creates a registry that builds controllers with build.
func NewRegistry(build Builder) *Registry {
	return &Registry{
		build:    build,
		current:  make(map[string]*Controller),
		previous: make(map[string][]domain.CallSession),
	}
}

// Begin starts a new attempt for the appointment. An existing attempt that
// has not reached Closed is reported as attempt_in_progress; a closed one is
// torn down and archived first.
func (r *Registry) Begin(sc domain.SessionContext) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.current[sc.AppointmentID]; ok {
		if prev.State() != domain.CallClosed {
			return nil, domain.NewError(domain.ErrorTypeInvalidTransition,
				"a call attempt for this appointment is already in progress").
				WithCode(domain.ErrorCodeAttemptInProgress)
		}
		prev.Teardown()
		r.previous[sc.AppointmentID] = append(r.previous[sc.AppointmentID], prev.Session())
	}

	c := r.build(sc)
	r.current[sc.AppointmentID] = c
	return c, nil
}

// Current returns the latest attempt for the appointment.
func (r *Registry) Current(appointmentID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.current[appointmentID]
	return c, ok
}

// Attempts returns every attempt for the appointment, oldest first, including
// the current one.
func (r *Registry) Attempts(appointmentID string) []domain.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.CallSession{}, r.previous[appointmentID]...)
	if c, ok := r.current[appointmentID]; ok {
		out = append(out, c.Session())
	}
	return out
}

// Close tears down every current attempt.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.current {
		c.Teardown()
	}
}
