// Package otelx wires OpenTelemetry tracing for the orchestrator's
// handleIncoming turns and the task manager's command launches, grounded
// on go-claw's internal/otel package. When disabled it hands back
// no-op tracers so call sites never branch on whether tracing is on.
package otelx

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the instrumentation scope name for nxclaw traces.
	TracerName = "nxclaw"
)

// Config holds tracing configuration (spec §6.11).
type Config struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter,omitempty" yaml:"exporter,omitempty"` // "stdout" | "otlp-http" | "none"
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ServiceName string  `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
	SampleRate  float64 `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "nxclaw"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 1.0
	}
	if c.Exporter == "" {
		if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
			c.Exporter = "otlp-http"
		} else {
			c.Exporter = "stdout"
		}
	}
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
}

// Provider wraps a tracer provider with cleanup.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	Tracer         trace.Tracer
	shutdown       func(context.Context) error
}

// Init sets up tracing per cfg. If cfg.Enabled is false, returns a no-op
// provider — Start/End calls elsewhere in the runtime stay unconditional.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			Tracer:   nooptrace.NewTracerProvider().Tracer(TracerName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}
	cfg.applyDefaults()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otelx: build resource: %w", err)
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otelx: create exporter: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		TracerProvider: tp,
		Tracer:         tp.Tracer(TracerName),
		shutdown:       tp.Shutdown,
	}, nil
}

// Shutdown flushes pending spans and tears the provider down.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-http":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return noopExporter{}, nil
	default:
		return nil, fmt.Errorf("otelx: unknown exporter %q (supported: stdout, otlp-http, none)", cfg.Exporter)
	}
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                            { return nil }

// Standard attribute keys for nxclaw spans.
var (
	AttrSessionID = attribute.Key("nxclaw.session.id")
	AttrSource    = attribute.Key("nxclaw.source")
	AttrTaskID    = attribute.Key("nxclaw.task.id")
	AttrCommand   = attribute.Key("nxclaw.task.command")
	AttrLoopStep  = attribute.Key("nxclaw.loop.step")
)

// StartIncomingSpan starts the span wrapping one orchestrator
// HandleIncoming turn.
func StartIncomingSpan(ctx context.Context, tracer trace.Tracer, sessionID, source string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator.handle_incoming",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(AttrSessionID.String(sessionID), AttrSource.String(source)),
	)
}

// StartTaskSpan starts the span wrapping one task-manager command launch.
func StartTaskSpan(ctx context.Context, tracer trace.Tracer, taskID, command string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tasks.launch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrTaskID.String(taskID), AttrCommand.String(command)),
	)
}
