// Package televisit provides the public API for embedding the televisit
// pre-call and session agent in another program.
package televisit

import (
	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/runtime"
	"github.com/tjfontaine/televisit/internal/session"
)

// Agent runs one appointment's call attempts and serves the local API.
// See internal/runtime.Agent for full documentation.
type Agent = runtime.Agent

// Option is a functional option for configuring an Agent.
type Option = runtime.Option

// Controller is a single call attempt.
type Controller = session.Controller

// Snapshot is the observer view of a Controller.
type Snapshot = session.Snapshot

// Domain types surfaced through the API.
type (
	SessionContext  = domain.SessionContext
	CallState       = domain.CallState
	CapabilityTest  = domain.CapabilityTest
	FeedbackRecord  = domain.FeedbackRecord
	FeedbackAck     = domain.FeedbackAck
	Override        = domain.Override
	ParticipantRole = domain.ParticipantRole
	Error           = domain.Error
)

// New creates an Agent with the given options.
// Example:
//
//	agent, err := televisit.New(
//	    televisit.WithFileConfig("televisit.yaml"),
//	    televisit.WithSession("appt-7f3a", "patient", ""),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage and events
	WithSQLite          = runtime.WithSQLite
	WithStorageProvider = runtime.WithStorageProvider
	WithDirectEvents    = runtime.WithDirectEvents
	WithEventPublisher  = runtime.WithEventPublisher

	// Collaborators
	WithMediaDevices      = runtime.WithMediaDevices
	WithEngineFactory     = runtime.WithEngineFactory
	WithAppointmentSource = runtime.WithAppointmentSource
	WithFeedbackSink      = runtime.WithFeedbackSink

	// Session and serving
	WithSession  = runtime.WithSession
	WithListener = runtime.WithListener
	WithRegistry = runtime.WithRegistry

	// Logging
	WithLogger   = runtime.WithLogger
	WithLevelVar = runtime.WithLevelVar
)

// ParseLevel maps a configured log level name to a slog.Level.
var ParseLevel = runtime.ParseLevel

// AsError extracts a *Error from err.
var AsError = domain.AsError
