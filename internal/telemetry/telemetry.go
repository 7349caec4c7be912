// Package telemetry wires OpenTelemetry traces and metrics for the gateway.
//
// When telemetry is disabled every method is a cheap no-op, so callers never
// check Enabled themselves.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/straja-ai/graphgate/internal/config"
)

const scope = "github.com/straja-ai/graphgate"

// Provider owns the tracer and meter providers and the gateway instruments.
type Provider struct {
	Enabled bool
	tp      trace.TracerProvider
	mp      metric.MeterProvider
	tracer  trace.Tracer
	meter   metric.Meter
	handler http.Handler

	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	stageDuration   metric.Float64Histogram
	complexityScore metric.Int64Histogram
	violations      metric.Int64Counter
	auditDeliveries metric.Int64Counter
	execDuration    metric.Float64Histogram

	shutdown []func(context.Context) error
}

// Noop returns a disabled provider.
func Noop() *Provider {
	p := &Provider{
		tp: tracenoop.NewTracerProvider(),
		mp: metricnoop.NewMeterProvider(),
	}
	p.tracer = p.tp.Tracer("")
	p.meter = p.mp.Meter("")
	p.initInstruments()
	return p
}

// NewProvider configures exporters per cfg. A disabled config yields Noop().
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, version string, logger *slog.Logger) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	p := &Provider{Enabled: true}
	var (
		spanExp sdktrace.SpanExporter
		reader  sdkmetric.Reader
	)
	switch cfg.Exporter {
	case "", "otlp":
		logger.Info("telemetry enabled", "exporter", "otlp", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)
		spanExp, reader, err = otlpExporters(ctx, cfg)
	case "prometheus":
		logger.Info("telemetry enabled", "exporter", "prometheus")
		reg := prometheus.NewRegistry()
		var exp *promexporter.Exporter
		exp, err = promexporter.New(promexporter.WithRegisterer(reg))
		reader = exp
		p.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	case "stdout":
		logger.Info("telemetry enabled", "exporter", "stdout")
		spanExp, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err == nil {
			var mexp sdkmetric.Exporter
			mexp, err = stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
			reader = sdkmetric.NewPeriodicReader(mexp)
		}
	default:
		err = fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry exporter: %w", err)
	}

	if spanExp != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(spanExp),
			sdktrace.WithResource(res),
		)
		p.tp = tp
		p.shutdown = append(p.shutdown, tp.Shutdown)
	} else {
		p.tp = tracenoop.NewTracerProvider()
	}
	p.tracer = p.tp.Tracer(scope)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	p.mp = mp
	p.meter = mp.Meter(scope)
	p.shutdown = append(p.shutdown, mp.Shutdown)

	p.initInstruments()
	return p, nil
}

func otlpExporters(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, sdkmetric.Reader, error) {
	switch cfg.Protocol {
	case "", "grpc":
		se, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		me, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		return se, sdkmetric.NewPeriodicReader(me), nil
	case "http":
		se, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		me, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		return se, sdkmetric.NewPeriodicReader(me), nil
	default:
		return nil, nil, fmt.Errorf("unknown otlp protocol %q", cfg.Protocol)
	}
}

func (p *Provider) initInstruments() {
	// instrument errors leave a nil-safe noop; telemetry is best-effort
	p.requests, _ = p.meter.Int64Counter("graphgate_requests_total",
		metric.WithDescription("Requests by terminal outcome"))
	p.requestDuration, _ = p.meter.Float64Histogram("graphgate_request_duration_ms",
		metric.WithUnit("ms"))
	p.stageDuration, _ = p.meter.Float64Histogram("graphgate_stage_duration_ms",
		metric.WithUnit("ms"))
	p.complexityScore, _ = p.meter.Int64Histogram("graphgate_complexity_score")
	p.violations, _ = p.meter.Int64Counter("graphgate_sanitizer_violations_total")
	p.auditDeliveries, _ = p.meter.Int64Counter("graphgate_audit_deliveries_total")
	p.execDuration, _ = p.meter.Float64Histogram("graphgate_executor_duration_ms",
		metric.WithUnit("ms"))
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// TracerProvider returns the provider behind Tracer, for instrumentation
// libraries.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p == nil {
		return tracenoop.NewTracerProvider()
	}
	return p.tp
}

func (p *Provider) MeterProvider() metric.MeterProvider {
	if p == nil {
		return metricnoop.NewMeterProvider()
	}
	return p.mp
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return metricnoop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// MetricsHandler serves the prometheus registry, or nil for other exporters.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil {
		return nil
	}
	return p.handler
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordRequest counts a finished request.
func (p *Provider) RecordRequest(ctx context.Context, outcome, code string, durMs float64) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("graphgate.outcome", outcome),
		attribute.String("graphgate.reason_code", code),
	)
	p.requests.Add(ctx, 1, attrs)
	p.requestDuration.Record(ctx, durMs, metric.WithAttributes(attribute.String("graphgate.outcome", outcome)))
}

// RecordStage records the time spent in one pipeline stage.
func (p *Provider) RecordStage(ctx context.Context, stage string, durMs float64) {
	if p == nil {
		return
	}
	p.stageDuration.Record(ctx, durMs, metric.WithAttributes(attribute.String("graphgate.stage", stage)))
}

func (p *Provider) RecordComplexity(ctx context.Context, score int) {
	if p == nil {
		return
	}
	p.complexityScore.Record(ctx, int64(score))
}

// RecordViolations counts sanitizer rule hits.
func (p *Provider) RecordViolations(ctx context.Context, rules []string) {
	if p == nil {
		return
	}
	for _, r := range rules {
		p.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("graphgate.rule", r)))
	}
}

// RecordAuditDelivery counts one sink delivery attempt.
func (p *Provider) RecordAuditDelivery(ctx context.Context, sink string, err error) {
	if p == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.auditDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("graphgate.sink", sink),
		attribute.String("graphgate.result", result),
	))
}

func (p *Provider) RecordExecution(ctx context.Context, status string, durMs float64) {
	if p == nil {
		return
	}
	p.execDuration.Record(ctx, durMs, metric.WithAttributes(attribute.String("graphgate.status", status)))
}
