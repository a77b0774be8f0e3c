// Package observability configures OpenTelemetry tracing.
package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/rcliao/avatar-memory/internal/logger"
)

type OtelConfig struct {
	ServiceName string
	Version     string
	// Stdout exports spans as JSON to Writer (os.Stderr when nil). When
	// false tracing stays on the global no-op provider.
	Stdout bool
	Writer io.Writer
}

// InitOTel installs a global tracer provider and returns its shutdown
// function. The returned function is always safe to call.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	if !cfg.Stdout {
		return func(context.Context) error { return nil }
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "avatar-memory"
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
		),
	)
	if err != nil && log != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		if log != nil {
			log.Warn("otel exporter init failed (continuing)", "error", err)
		}
		return func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if log != nil {
		log.Info("otel tracing initialized", "service", serviceName, "exporter", "stdout")
	}
	return tp.Shutdown
}
