package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// Global telemetry handles
var (
	Tracer = otel.Tracer("github.com/mkarls/showcased")
	Meter  = otel.Meter("github.com/mkarls/showcased")

	// PrometheusRegistry for Prometheus scraping (dual export pattern).
	// The OTEL exporter registers itself with this registry.
	PrometheusRegistry *promclient.Registry

	// Metrics - following OTEL naming conventions
	EventsReceived     metric.Int64Counter
	EventsDropped      metric.Int64Counter
	EventsDuplicate    metric.Int64Counter
	DecisionsTotal     metric.Int64Counter
	EnforcementActions metric.Int64Counter
	EnforcementFailed  metric.Int64Counter
	EscalationsTotal   metric.Int64Counter
	PipelineDuration   metric.Float64Histogram
	StoreRevision      metric.Int64Gauge
	UsersTracked       metric.Int64Gauge
)

// Instruments are bound to the default (no-op) meter until InitOTEL
// installs the real provider and rebinds them.
func init() {
	_ = initMetrics()
}

// Config for OTEL initialization
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTELEndpoint   string
	Insecure       bool
}

// InitOTEL initializes OpenTelemetry with traces and metrics
func InitOTEL(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	cfg = applyConfigDefaults(cfg)

	res, err := createOTELResource(cfg)
	if err != nil {
		return nil, err
	}

	return setupProviders(ctx, cfg, res)
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.OTELEndpoint == "" {
		cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "showcased"
	}
	return cfg
}

func createOTELResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func setupProviders(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	traceShutdown, err := setupTraceProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to setup traces: %w", err)
	}

	metricShutdown, err := setupMetricProvider(ctx, cfg, res)
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if err := initMetrics(); err != nil {
		_ = traceShutdown(ctx)
		_ = metricShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return func(ctx context.Context) error {
		var err error
		if e := traceShutdown(ctx); e != nil {
			err = fmt.Errorf("trace shutdown failed: %w", e)
		}
		if e := metricShutdown(ctx); e != nil && err == nil {
			err = fmt.Errorf("metric shutdown failed: %w", e)
		}
		return err
	}, nil
}

// setupTraceProvider configures trace provider with OTLP exporter.
// Traces are disabled when no endpoint is configured.
func setupTraceProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	if cfg.OTELEndpoint == "" {
		otel.SetTextMapPropagator(propagation.TraceContext{})
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTELEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = provider.Tracer("github.com/mkarls/showcased")

	return provider.Shutdown, nil
}

// setupMetricProvider configures metric provider with dual export
// (Prometheus pull + optional OTLP push)
func setupMetricProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	var readers []sdkmetric.Reader

	registry := promclient.NewRegistry()
	PrometheusRegistry = registry

	prometheusExporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	readers = append(readers, prometheusExporter)

	if cfg.OTELEndpoint != "" {
		otlpReader, err := createOTLPReader(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric reader: %w", err)
		}
		readers = append(readers, otlpReader)
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}
	for _, reader := range readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(reader))
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(provider)
	Meter = provider.Meter("github.com/mkarls/showcased")

	return provider.Shutdown, nil
}

func createOTLPReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTELEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	return sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(10*time.Second),
	), nil
}

func initMetrics() error {
	if err := initCounters(); err != nil {
		return err
	}
	if err := initHistograms(); err != nil {
		return err
	}
	return initGauges()
}

func initCounters() error {
	var err error

	EventsReceived, err = Meter.Int64Counter("showcased.events.received.total",
		metric.WithDescription("Total gateway events received"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create events_received counter: %w", err)
	}

	EventsDropped, err = Meter.Int64Counter("showcased.events.dropped.total",
		metric.WithDescription("Events dropped by the normalizer"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create events_dropped counter: %w", err)
	}

	EventsDuplicate, err = Meter.Int64Counter("showcased.events.duplicate.total",
		metric.WithDescription("Redelivered events suppressed by dedup"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create events_duplicate counter: %w", err)
	}

	DecisionsTotal, err = Meter.Int64Counter("showcased.decisions.total",
		metric.WithDescription("Rule decisions finalized"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create decisions counter: %w", err)
	}

	EnforcementActions, err = Meter.Int64Counter("showcased.enforcement.actions.total",
		metric.WithDescription("Enforcement actions applied"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create enforcement_actions counter: %w", err)
	}

	EnforcementFailed, err = Meter.Int64Counter("showcased.enforcement.failed.total",
		metric.WithDescription("Enforcement actions that failed permanently"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create enforcement_failed counter: %w", err)
	}

	EscalationsTotal, err = Meter.Int64Counter("showcased.escalations.total",
		metric.WithDescription("Users escalated to moderators"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create escalations counter: %w", err)
	}

	return nil
}

func initHistograms() error {
	var err error

	PipelineDuration, err = Meter.Float64Histogram("showcased.pipeline.duration.seconds",
		metric.WithDescription("Duration of per-event pipeline runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline_duration histogram: %w", err)
	}

	return nil
}

func initGauges() error {
	var err error

	StoreRevision, err = Meter.Int64Gauge("showcased.store.revision.current",
		metric.WithDescription("Current state store revision number"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create store_revision gauge: %w", err)
	}

	UsersTracked, err = Meter.Int64Gauge("showcased.store.users.current",
		metric.WithDescription("Users with persisted enforcement state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create users_tracked gauge: %w", err)
	}

	return nil
}
