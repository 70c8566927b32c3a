package tracing

import (
	"context"
	"testing"
)

func TestInitTracing_Disabled(t *testing.T) {
	tr, err := InitTracing(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, span := tr.StartSpan(context.Background(), "op")
	if span.SpanContext().IsValid() {
		t.Error("Expected no-op span")
	}
	span.End()

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), Config{Enabled: true, Exporter: "zipkin", Endpoint: "x"}); err == nil {
		t.Error("Expected error for unknown exporter")
	}
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartSpan(context.Background(), "op")
	span.End()
	if ctx == nil {
		t.Error("Expected context")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}
