package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("type", "payment_succeeded"),
		attribute.String("event_id", "evt_1"),
		attribute.String("result", ResultDead),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "event_id" {
			t.Fatalf("expected event_id to be dropped")
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordEventReceived(ctx, "payment_succeeded")
	m.RecordEventProcessed(ctx, ResultSucceeded)
	m.RecordRetry(ctx)
	m.RecordDeadLetter(ctx)
	m.RecordLedgerTransaction(ctx, "payment")
	m.ObserveStage(ctx, StageEventProcess, time.Second)
}

func TestMetricsRecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "payflow-test"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordEventProcessed(ctx, ResultSucceeded)
	m.RecordEventProcessed(ctx, ResultSucceeded)
	m.RecordEventProcessed(ctx, ResultDead)
	m.RecordDeadLetter(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	if got := sumFor(rm, "provider_events_processed_total", ResultSucceeded); got != 2 {
		t.Fatalf("expected 2 succeeded, got %d", got)
	}
	if got := sumFor(rm, "provider_events_processed_total", ResultDead); got != 1 {
		t.Fatalf("expected 1 dead, got %d", got)
	}
	if got := sumFor(rm, "dead_events_total", ""); got != 1 {
		t.Fatalf("expected 1 dead letter, got %d", got)
	}
}

func sumFor(rm metricdata.ResourceMetrics, name, result string) int64 {
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if result != "" {
					value, found := dp.Attributes.Value("result")
					if !found || value.AsString() != result {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}
