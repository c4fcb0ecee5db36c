package telemetry

import (
	"context"
	"io"
	"log"
	"testing"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: "none"}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingRejectsBadExporters(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected unsupported exporter error")
	}
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, nil); err == nil {
		t.Fatal("expected missing endpoint error")
	}
}

func TestSampleRatio(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -1: 1, 2: 1, 0.25: 0.25} {
		if got := sampleRatio(in); got != want {
			t.Fatalf("sampleRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
