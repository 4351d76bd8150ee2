// Package telemetry sets up OpenTelemetry tracing for the agent.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/tjfontaine/televisit/internal/config"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

type options struct {
	writer     io.Writer
	logger     *slog.Logger
	syncExport bool
}

// Option configures InitTracer.
type Option func(*options)

// WithWriter sends exported spans to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSyncExport exports every span as it ends instead of batching.
func WithSyncExport() Option {
	return func(o *options) { o.syncExport = true }
}

// InitTracer installs a global tracer provider exporting to stdout. When
// tracing is disabled it leaves the no-op provider in place and returns a
// no-op shutdown.
func InitTracer(cfg config.TelemetryConfig, opts ...Option) (Shutdown, error) {
	o := options{writer: os.Stdout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.Tracing {
		o.logger.Debug("tracing disabled")
		return noopShutdown, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "televisit"
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.writer), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	export := sdktrace.WithBatcher(exporter)
	if o.syncExport {
		export = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	o.logger.Info("tracing initialized", slog.String("service", serviceName))
	return tp.Shutdown, nil
}
