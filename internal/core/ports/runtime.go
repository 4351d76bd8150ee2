package ports

import (
	"context"

	"github.com/tjfontaine/televisit/internal/config"
	"github.com/tjfontaine/televisit/internal/core/domain"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// AppointmentSource is the external appointment query interface.
// Implementations: httpapi (appointment service), test fakes.
type AppointmentSource interface {
	GetAppointment(ctx context.Context, appointmentID string) (*domain.Appointment, error)
}

// FeedbackSink is the external feedback persistence interface. It must accept
// partial data; idempotency on repeated submission is not required.
// Implementations: httpapi (feedback service), test fakes.
type FeedbackSink interface {
	SubmitFeedback(ctx context.Context, submission *domain.FeedbackSubmission) error
}

// EventPublisher publishes session lifecycle events.
// Implementations: direct storage (default).
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}
