// Package appointment loads the immutable context a session is built from.
package appointment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// DefaultVideoTypes are the appointment types that can be joined by video.
var DefaultVideoTypes = []string{"video"}

var cancelledStatuses = []string{"cancelled", "canceled"}

// Loader reads an appointment once and turns it into a SessionContext.
type Loader struct {
	source     ports.AppointmentSource
	videoTypes []string
	logger     *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithVideoTypes overrides the video-capable appointment types.
func WithVideoTypes(types []string) Option {
	return func(l *Loader) {
		if len(types) == 0 {
			return
		}
		l.videoTypes = make([]string, 0, len(types))
		for _, t := range types {
			l.videoTypes = append(l.videoTypes, domain.NormalizeStatus(t))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader over source.
func NewLoader(source ports.AppointmentSource, opts ...Option) *Loader {
	l := &Loader{
		source:     source,
		videoTypes: DefaultVideoTypes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the appointment and fails fast when it cannot be joined by
// video: a non-video type or a cancelled status. An empty displayName
// defaults to the role's title.
func (l *Loader) Load(ctx context.Context, appointmentID string, role domain.ParticipantRole, displayName string) (domain.SessionContext, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return domain.SessionContext{}, domain.ErrInvalidRequest("appointment id is required")
	}
	if !role.Valid() {
		return domain.SessionContext{}, domain.ErrInvalidRequest(fmt.Sprintf("unknown participant role %q", role))
	}

	appt, err := l.source.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.SessionContext{}, err
	}

	// The room is derived from the id, so it must be the one requested.
	if appt.ID != "" && appt.ID != appointmentID {
		l.logger.Warn("appointment service returned a different appointment",
			slog.String("appointment_id", appointmentID),
			slog.String("returned_id", appt.ID))
		return domain.SessionContext{}, domain.ErrUpstream(
			fmt.Sprintf("appointment service returned %s for %s", appt.ID, appointmentID)).WithRetryable(false)
	}

	typ := domain.NormalizeStatus(appt.Type)
	if !slices.Contains(l.videoTypes, typ) {
		l.logger.Info("appointment is not a video visit",
			slog.String("appointment_id", appointmentID),
			slog.String("type", appt.Type))
		return domain.SessionContext{}, domain.ErrIneligibleSession(domain.ErrorCodeNotVideo,
			fmt.Sprintf("appointment %s is a %s visit, not a video visit", appointmentID, appt.Type))
	}
	status := domain.NormalizeStatus(appt.Status)
	if slices.Contains(cancelledStatuses, status) {
		l.logger.Info("appointment is cancelled", slog.String("appointment_id", appointmentID))
		return domain.SessionContext{}, domain.ErrIneligibleSession(domain.ErrorCodeCancelled,
			fmt.Sprintf("appointment %s has been cancelled", appointmentID))
	}

	if strings.TrimSpace(displayName) == "" {
		displayName = roleTitle(role)
	}

	return domain.SessionContext{
		AppointmentID:   appointmentID,
		ParticipantRole: role,
		DisplayName:     displayName,
		ScheduledStart:  appt.ScheduledTime,
		SessionType:     typ,
		Status:          status,
		CounterpartName: appt.CounterpartName,
		CounterpartRole: appt.CounterpartRole,
	}, nil
}

func roleTitle(role domain.ParticipantRole) string {
	if role == domain.RoleProvider {
		return "Provider"
	}
	return "Patient"
}
