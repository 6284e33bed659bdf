package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/secure-session-store/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "secure-session-store"

type AppMetrics struct {
	sessionOpCounter    metric.Int64Counter
	sessionOpDuration   metric.Float64Histogram
	repositoryOpCounter metric.Int64Counter
	indexOpCounter      metric.Int64Counter
	indexLoadedGauge    metric.Int64Gauge
	rateLimitCounter    metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	setAppMetrics(m)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	sessionOps, err := meter.Int64Counter("session.operations")
	if err != nil {
		return nil, err
	}
	sessionDuration, err := meter.Float64Histogram("session.operation.duration", metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	repoOps, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	indexOps, err := meter.Int64Counter("identity_index.operations")
	if err != nil {
		return nil, err
	}
	indexLoaded, err := meter.Int64Gauge("identity_index.loaded_entries")
	if err != nil {
		return nil, err
	}
	rateLimit, err := meter.Int64Counter("rate_limit.decisions")
	if err != nil {
		return nil, err
	}
	return &AppMetrics{
		sessionOpCounter:    sessionOps,
		sessionOpDuration:   sessionDuration,
		repositoryOpCounter: repoOps,
		indexOpCounter:      indexOps,
		indexLoadedGauge:    indexLoaded,
		rateLimitCounter:    rateLimit,
	}, nil
}

func setAppMetrics(m *AppMetrics) {
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}

func RecordSessionOperation(ctx context.Context, op, outcome string, started time.Time) {
	m := currentMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	m.sessionOpCounter.Add(ctx, 1, attrs)
	m.sessionOpDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000, attrs)
}

func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordIdentityIndexOperation(ctx context.Context, backend, op, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.indexOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordIdentityIndexLoaded(ctx context.Context, backend string, entries int) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.indexLoadedGauge.Record(ctx, int64(entries), metric.WithAttributes(attribute.String("backend", backend)))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}

// Outcome maps an operation error to the metric outcome label.
func Outcome(err error, notFound ...error) string {
	if err == nil {
		return "success"
	}
	for _, target := range notFound {
		if target != nil && errors.Is(err, target) {
			return "not_found"
		}
	}
	return "error"
}
