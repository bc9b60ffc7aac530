package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jo-hoe/reelforge/internal/config"
)

func TestInitTracing_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(config.TracingConfig{Exporter: "stdout", ServiceName: "reelforge-test"}, &buf)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "dispatch.pass", attribute.Int("claimed", 3))
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "dispatch.pass") {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestInitTracing_NoneAndUnknown(t *testing.T) {
	shutdown, err := InitTracing(config.TracingConfig{Exporter: "none"}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a recording span")
	}
	span.End()
	_ = shutdown(context.Background())

	if _, err := InitTracing(config.TracingConfig{Exporter: "jaeger"}, nil); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}
