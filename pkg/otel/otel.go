// Package otel bootstraps the global tracer provider. The durable wrappers
// and the provider HTTP transports emit their spans through it; without Init
// those spans go to the default no-op provider.
package otel

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls tracer-provider initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// UseStdout enables the pretty-printed stdout exporter for local runs.
	UseStdout bool
	// Exporter overrides UseStdout and exports spans synchronously, so a
	// test can assert on them without waiting out a batch timeout.
	Exporter sdktrace.SpanExporter
}

// Init installs the global tracer provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tether"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = os.Getenv("TETHER_VERSION")
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var tp *sdktrace.TracerProvider
	switch {
	case cfg.Exporter != nil:
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(cfg.Exporter),
			sdktrace.WithResource(res),
		)
	case cfg.UseStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp,
				sdktrace.WithMaxExportBatchSize(512),
				sdktrace.WithBatchTimeout(200*time.Millisecond),
			),
			sdktrace.WithResource(res),
		)
	default:
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	}

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
