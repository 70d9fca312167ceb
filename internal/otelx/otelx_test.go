package otelx_test

import (
	"context"
	"testing"

	"github.com/nx/nxclaw/internal/otelx"
)

func TestInitDisabledIsNoop(t *testing.T) {
	p, err := otelx.Init(context.Background(), otelx.Config{Enabled: false})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.Tracer == nil {
		t.Fatal("expected a non-nil no-op tracer")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitStdoutExporter(t *testing.T) {
	p, err := otelx.Init(context.Background(), otelx.Config{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx, span := otelx.StartIncomingSpan(context.Background(), p.Tracer, "sess-1", "dashboard")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	span.End()
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := otelx.Init(context.Background(), otelx.Config{Enabled: true, Exporter: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
