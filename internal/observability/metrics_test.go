package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordersExportThroughMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	setAppMetrics(m)
	t.Cleanup(func() { setAppMetrics(nil) })

	ctx := context.Background()
	RecordSessionOperation(ctx, "get", "success", time.Now())
	RecordRepositoryOperation(ctx, "session", "save", "success")
	RecordRepositoryOperation(ctx, "session", "save", "error")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			found[metric.Name] = true
			if metric.Name == "repository.operations" {
				sum, ok := metric.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) != 2 {
					t.Fatalf("expected two repository data points, got %#v", metric.Data)
				}
			}
		}
	}
	for _, name := range []string{"session.operations", "session.operation.duration", "repository.operations"} {
		if !found[name] {
			t.Fatalf("expected metric %s to be exported, got %v", name, found)
		}
	}
}

func TestOutcome(t *testing.T) {
	notFound := errors.New("not found")
	if got := Outcome(nil, notFound); got != "success" {
		t.Fatalf("Outcome(nil)=%q", got)
	}
	if got := Outcome(errors.Join(errors.New("wrap"), notFound), notFound); got != "not_found" {
		t.Fatalf("Outcome(not found)=%q", got)
	}
	if got := Outcome(errors.New("boom"), notFound); got != "error" {
		t.Fatalf("Outcome(other)=%q", got)
	}
}
