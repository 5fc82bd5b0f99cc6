package tracing

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/JiscPER/jper-sub000/pkg/tracing/exporters"
)

// Config selects the span exporter
type Config struct {
	ServiceName string
	// Exporter is "otlp", "console" (spans logged at debug level) or "none"
	Exporter string
	OTLP     exporters.OTLPConfig
	Logger   ectologger.Logger
}

// NewProvider builds a tracer provider, registers it globally and sets the package tracer.
// The caller must Shutdown the provider.
func NewProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	var opts []sdktrace.TracerProviderOption
	switch cfg.Exporter {
	case "otlp":
		exp, err := exporters.NewOTLPExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "console", "":
		if cfg.Logger != nil {
			opts = append(opts, sdktrace.WithSyncer(exporters.NewLogExporter(cfg.Logger)))
		}
	case "none":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	SetTracer(provider.Tracer(cfg.ServiceName))
	return provider, nil
}
