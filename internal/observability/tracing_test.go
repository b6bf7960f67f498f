package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, discardLogger())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "aprstrack-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, discardLogger())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, discardLogger())
	})

	_, span := otel.Tracer("test").Start(context.Background(), "poll.cycle")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, discardLogger())

	if !strings.Contains(buf.String(), "poll.cycle") {
		t.Errorf("exported spans missing poll.cycle: %q", buf.String())
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, discardLogger())
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
