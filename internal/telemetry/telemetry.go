// Package telemetry wires the node's metric and trace providers (SPEC_FULL.md
// §9's ambient observability stack: "go.opentelemetry.io/otel... the same
// packages the teacher vendors in internal/hooks/hooks_otel.go"). It exports
// a stdout provider for local/dev runs and an OTLP-over-HTTP exporter when a
// collector endpoint is configured.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Providers bundles the node's meter and tracer plus a shutdown func that
// flushes and closes both.
type Providers struct {
	Meter    metric.Meter
	Tracer   trace.Tracer
	Shutdown func(context.Context) error
}

// Setup builds the node's telemetry providers. When otlpEndpoint is empty,
// both signals are exported to stdout (the teacher's own dev-loop default,
// per hooks_otel.go's stdout-first posture); otherwise metrics ship to the
// given collector over OTLP/HTTP.
func Setup(ctx context.Context, serviceName, otlpEndpoint string) (*Providers, error) {
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	traceExporter, err := stdouttrace.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: building trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	var metricReader sdkmetric.Reader
	if otlpEndpoint == "" {
		metricExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: building metric exporter: %w", err)
		}
		metricReader = sdkmetric.NewPeriodicReader(metricExporter)
	} else {
		metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, fmt.Errorf("telemetry: building otlp metric exporter: %w", err)
		}
		metricReader = sdkmetric.NewPeriodicReader(metricExporter)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricReader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return &Providers{
		Meter:  mp.Meter(serviceName),
		Tracer: tp.Tracer(serviceName),
		Shutdown: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return err
			}
			return mp.Shutdown(ctx)
		},
	}, nil
}
