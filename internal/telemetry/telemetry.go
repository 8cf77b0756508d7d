// Package telemetry sets up tracing for the assistant.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const serviceName = "kb-assistant"

// TelemetryConfig holds the configuration for telemetry
type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string // host:port of an OTLP/HTTP collector
	Insecure       bool
	ServiceVersion string
}

// Provider manages the telemetry system
type Provider struct {
	tracerProvider trace.TracerProvider
	shutdown       func(context.Context) error
	logger         *zap.Logger
}

// NewProvider creates a new telemetry provider. A disabled provider hands out no-op tracers
func NewProvider(ctx context.Context, config TelemetryConfig, logger *zap.Logger) (*Provider, error) {
	if !config.Enabled {
		logger.Debug("telemetry disabled")
		return &Provider{
			tracerProvider: noop.NewTracerProvider(),
			shutdown:       func(context.Context) error { return nil },
			logger:         logger,
		}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(config.ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("telemetry enabled", zap.String("endpoint", config.OTLPEndpoint))
	return &Provider{
		tracerProvider: tp,
		shutdown:       tp.Shutdown,
		logger:         logger,
	}, nil
}

// Tracer returns a named tracer
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// Shutdown flushes pending spans and shuts down the telemetry provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down telemetry: %w", err)
	}
	return nil
}
