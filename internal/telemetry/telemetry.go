// Package telemetry configures OpenTelemetry tracing and metrics for
// authgate. Both exporters write to a local stream and are opt-in.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultMetricInterval is how often metrics are exported while running.
const DefaultMetricInterval = 30 * time.Second

// Options controls Setup.
type Options struct {
	ServiceName string
	Version     string
	// TraceStdout enables the stdout span exporter.
	TraceStdout bool
	// MetricsStdout enables the stdout metric exporter. Pending metrics are
	// always exported on shutdown.
	MetricsStdout  bool
	MetricInterval time.Duration
	// Writer receives exported telemetry. Defaults to os.Stderr so it does
	// not mix with command output.
	Writer io.Writer
}

// Setup initialises the enabled providers and registers them globally.
// With nothing enabled it is a no-op. The returned shutdown function
// flushes pending data and is never nil.
func Setup(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	var shutdowns []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}
	if !opts.TraceStdout && !opts.MetricsStdout {
		return shutdown, nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	name := opts.ServiceName
	if name == "" {
		name = "authgate"
	}
	res := resource.NewSchemaless(
		semconv.ServiceName(name),
		semconv.ServiceVersion(opts.Version),
	)

	if opts.TraceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return shutdown, fmt.Errorf("create stdout span exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if opts.MetricsStdout {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return shutdown, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		interval := opts.MetricInterval
		if interval <= 0 {
			interval = DefaultMetricInterval
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return shutdown, nil
}
