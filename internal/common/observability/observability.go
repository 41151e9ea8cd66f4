package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	quotesScanned  otelmetric.Int64Counter
	tickDuration   otelmetric.Float64Histogram
}

// New sets up the otel meter backed by the prometheus exporter and, when a
// jaeger endpoint is given, a tracer that batches spans to it.
func New(serviceName, jaegerEndpoint string) *Observability {
	o := &Observability{}

	exporter, err := otelprom.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
	} else {
		o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter))
		otel.SetMeterProvider(o.meterProvider)

		meter := o.meterProvider.Meter(serviceName)
		o.quotesScanned, _ = meter.Int64Counter(
			"sweep.quotes.scanned",
			otelmetric.WithDescription("Number of active quote responses evaluated"),
		)
		o.tickDuration, _ = meter.Float64Histogram(
			"sweep.tick.duration",
			otelmetric.WithDescription("Sweep tick duration"),
			otelmetric.WithUnit("ms"),
		)
	}

	if jaegerEndpoint != "" {
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
		if err != nil {
			log.Printf("Failed to create Jaeger exporter: %v", err)
		} else {
			o.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
			otel.SetTracerProvider(o.tracerProvider)
			o.tracer = o.tracerProvider.Tracer(serviceName)
		}
	}
	if o.tracer == nil {
		o.tracer = trace.NewNoopTracerProvider().Tracer(serviceName)
	}

	return o
}

// StartTickSpan opens a span covering one sweep tick.
func (o *Observability) StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "sweep.tick")
}

func (o *Observability) RecordQuotesScanned(ctx context.Context, n int64) {
	if o.quotesScanned != nil {
		o.quotesScanned.Add(ctx, n)
	}
}

func (o *Observability) RecordTickDuration(ctx context.Context, duration time.Duration, status string) {
	if o.tickDuration != nil {
		o.tickDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
}
