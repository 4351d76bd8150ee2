package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use a
// double underscore, e.g. TELEVISIT_SERVER__ADDR.
const EnvPrefix = "TELEVISIT_"

type Config struct {
	Server       ServerConfig      `koanf:"server"`
	Log          LogConfig         `koanf:"log"`
	Storage      StorageConfig     `koanf:"storage"`
	Telemetry    TelemetryConfig   `koanf:"telemetry"`
	Appointments AppointmentConfig `koanf:"appointments"`
	Feedback     FeedbackConfig    `koanf:"feedback"`
	Conference   ConferenceConfig  `koanf:"conference"`
	Probe        ProbeConfig       `koanf:"probe"`
	Session      SessionConfig     `koanf:"session"`
}

// ServerConfig configures the local host API the UI talks to.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	// Token, when set, is required as a bearer token on every request.
	Token string `koanf:"token"`
	// RequestTimeout bounds non-streaming requests.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
}

// AppointmentConfig points at the external appointment query service.
type AppointmentConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Token      string        `koanf:"token"`
	Timeout    time.Duration `koanf:"timeout"`
	VideoTypes []string      `koanf:"video_types"`
}

// FeedbackConfig points at the external feedback persistence service.
type FeedbackConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Token      string        `koanf:"token"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	// RedeliverInterval is how often queued feedback is retried.
	RedeliverInterval time.Duration `koanf:"redeliver_interval"`
}

// ConferenceConfig configures the external conferencing engine.
type ConferenceConfig struct {
	ServerAddr    string `koanf:"server_addr"`
	BridgeURL     string `koanf:"bridge_url"`
	RoomPrefix    string `koanf:"room_prefix"`
	StartMuted    bool   `koanf:"start_muted"`
	StartVideoOff bool   `koanf:"start_video_off"`
}

// ProbeConfig tunes device and network verification.
type ProbeConfig struct {
	GoodDownlinkMbps float64       `koanf:"good_downlink_mbps"`
	FairDownlinkMbps float64       `koanf:"fair_downlink_mbps"`
	AudioInterval    time.Duration `koanf:"audio_interval"`
	Timeout          time.Duration `koanf:"timeout"`
}

// SessionConfig identifies the appointment the agent is started for.
type SessionConfig struct {
	AppointmentID string `koanf:"appointment_id"`
	Role          string `koanf:"role"`
	DisplayName   string `koanf:"display_name"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"server.addr":                 "127.0.0.1:7420",
	"server.request_timeout":      "30s",
	"log.level":                   "info",
	"log.format":                  "json",
	"storage.type":                "sqlite",
	"storage.sqlite.path":         "./data/televisit.db",
	"telemetry.service_name":      "televisit",
	"appointments.timeout":        "10s",
	"appointments.video_types":    []string{"video"},
	"feedback.timeout":            "10s",
	"feedback.max_retries":        3,
	"feedback.redeliver_interval": "1m",
	"conference.room_prefix":      "televisit-",
	"conference.bridge_url":       "ws://127.0.0.1:7421/engine",
	"probe.good_downlink_mbps":    4.0,
	"probe.fair_downlink_mbps":    1.5,
	"probe.audio_interval":        "100ms",
	"probe.timeout":               "15s",
	"session.role":                "patient",
}

// Load reads configuration from path (if it exists) and TELEVISIT_ environment
// variables, which override the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Server.Token = substituteEnvVars(cfg.Server.Token)
	cfg.Appointments.Token = substituteEnvVars(cfg.Appointments.Token)
	cfg.Feedback.Token = substituteEnvVars(cfg.Feedback.Token)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the session core depends on.
func (c *Config) Validate() error {
	if c.Probe.FairDownlinkMbps <= 0 || c.Probe.GoodDownlinkMbps <= 0 {
		return fmt.Errorf("probe downlink thresholds must be positive")
	}
	if c.Probe.FairDownlinkMbps > c.Probe.GoodDownlinkMbps {
		return fmt.Errorf("probe.fair_downlink_mbps (%v) exceeds probe.good_downlink_mbps (%v)",
			c.Probe.FairDownlinkMbps, c.Probe.GoodDownlinkMbps)
	}
	if c.Probe.AudioInterval <= 0 {
		return fmt.Errorf("probe.audio_interval must be positive")
	}
	switch c.Storage.Type {
	case "sqlite", "memory", "none":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	switch c.Session.Role {
	case "patient", "provider":
	default:
		return fmt.Errorf("unknown session role %q", c.Session.Role)
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
