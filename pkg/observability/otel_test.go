package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestOTelConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 0, want: "AlwaysOnSampler"},
		{ratio: 1, want: "AlwaysOnSampler"},
		{ratio: 0.25, want: "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := OTelConfig{SampleRatio: tt.ratio}.sampler().Description()
		if !strings.Contains(got, tt.want) {
			t.Errorf("sampler(%v) = %s, want it to contain %s", tt.ratio, got, tt.want)
		}
		if !strings.HasPrefix(got, "ParentBased") {
			t.Errorf("sampler(%v) = %s, want parent based", tt.ratio, got)
		}
	}
}

func TestOTelConfig_DialOptions(t *testing.T) {
	if len(OTelConfig{}.dialOptions()) != 0 {
		t.Error("Expected no dial options for TLS exporters")
	}
	if len(OTelConfig{Insecure: true}.dialOptions()) != 1 {
		t.Error("Expected insecure transport credentials")
	}
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "generate")
	defer span.End()

	var buf bytes.Buffer
	UpdateLoggerWithTraceContext(ctx, NewLogger(InfoLevel, &buf)).Info("streaming")

	entry := decodeEntry(t, &buf)
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("Expected trace_id %s, got %v", span.SpanContext().TraceID(), entry["trace_id"])
	}
}

func TestOTelProviders_ShutdownNil(t *testing.T) {
	var p *OTelProviders
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil providers returned %v", err)
	}
}
