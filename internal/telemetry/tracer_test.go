package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/tjfontaine/televisit/internal/config"
)

func TestInitTracerDisabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(config.TelemetryConfig{Tracing: false}, WithWriter(&buf))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("disabled tracer wrote %q", buf.String())
	}
}

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(config.TelemetryConfig{Tracing: true, ServiceName: "televisit-test"},
		WithWriter(&buf), WithSyncExport())
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "probe.camera")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "probe.camera") {
		t.Errorf("export missing span name: %s", out)
	}
	if !strings.Contains(out, "televisit-test") {
		t.Errorf("export missing service name: %s", out)
	}
}
