package runtime

import (
	"log/slog"
	"strings"

	"github.com/tjfontaine/televisit/internal/config"
	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/probe"
)

// ParseLevel maps a config log level to slog. Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func thresholdsFrom(cfg *config.Config) probe.NetworkThresholds {
	return probe.NetworkThresholds{
		GoodMbps: cfg.Probe.GoodDownlinkMbps,
		FairMbps: cfg.Probe.FairDownlinkMbps,
	}
}

// sessionOverride carries command-line choices that win over config.
type sessionOverride struct {
	appointmentID string
	role          domain.ParticipantRole
	displayName   string
}

func (o sessionOverride) apply(cfg config.SessionConfig) (string, domain.ParticipantRole, string) {
	id, role, name := cfg.AppointmentID, domain.ParticipantRole(cfg.Role), cfg.DisplayName
	if o.appointmentID != "" {
		id = o.appointmentID
	}
	if o.role != "" {
		role = o.role
	}
	if o.displayName != "" {
		name = o.displayName
	}
	return id, role, name
}
