package runtime

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/televisit/internal/adapters/config/file"
	"github.com/tjfontaine/televisit/internal/adapters/events/direct"
	"github.com/tjfontaine/televisit/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

// Option is a functional option for configuring an Agent.
type Option func(*Agent) error

// WithFileConfig uses the YAML file at path, watched for changes.
func WithFileConfig(path string) Option {
	return func(a *Agent) error {
		provider, err := file.NewProvider(path, file.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		a.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(a *Agent) error {
		a.config = provider
		return nil
	}
}

// WithSQLite journals sessions and queues feedback in the SQLite database at
// path, regardless of storage.type.
func WithSQLite(path string) Option {
	return func(a *Agent) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		a.storage = store
		return nil
	}
}

// WithStorageProvider overrides the storage selected by config.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(a *Agent) error {
		a.storage = provider
		return nil
	}
}

// WithDirectEvents journals lifecycle events straight into storage. It is the
// default whenever storage is available.
func WithDirectEvents() Option {
	return func(a *Agent) error {
		if a.storage == nil {
			return fmt.Errorf("storage provider must be set before event publisher")
		}
		publisher, err := direct.NewPublisher(a.storage)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		a.events = publisher
		return nil
	}
}

// WithEventPublisher sets a custom event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(a *Agent) error {
		a.events = publisher
		return nil
	}
}

// WithMediaDevices replaces the host device layer.
func WithMediaDevices(devices ports.MediaDevices) Option {
	return func(a *Agent) error {
		a.devices = devices
		return nil
	}
}

// WithEngineFactory replaces the conferencing engine bridge.
func WithEngineFactory(factory ports.EngineFactory) Option {
	return func(a *Agent) error {
		a.engines = factory
		return nil
	}
}

// WithAppointmentSource replaces the appointment service client.
func WithAppointmentSource(source ports.AppointmentSource) Option {
	return func(a *Agent) error {
		a.appointments = source
		return nil
	}
}

// WithFeedbackSink replaces the feedback service client.
func WithFeedbackSink(sink ports.FeedbackSink) Option {
	return func(a *Agent) error {
		a.feedbackSink = sink
		return nil
	}
}

// WithSession overrides the appointment, role and display name from config.
// Empty values leave the configured ones in place.
func WithSession(appointmentID string, role domain.ParticipantRole, displayName string) Option {
	return func(a *Agent) error {
		if role != "" && !role.Valid() {
			return fmt.Errorf("unknown participant role %q", role)
		}
		a.sessionOverride = sessionOverride{appointmentID: appointmentID, role: role, displayName: displayName}
		return nil
	}
}

// WithRegistry registers metrics with reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *Agent) error {
		a.registry = reg
		return nil
	}
}

// WithListener serves the local API on ln instead of server.addr.
func WithListener(ln net.Listener) Option {
	return func(a *Agent) error {
		a.listener = ln
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		a.logger = logger
		return nil
	}
}

// WithLevelVar lets config reloads change the log level at runtime.
func WithLevelVar(level *slog.LevelVar) Option {
	return func(a *Agent) error {
		a.level = level
		return nil
	}
}
