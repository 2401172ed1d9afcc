package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Processing results reported by RecordEventProcessed.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultDead      = "dead"
)

// Stage names reported by ObserveStage.
const (
	StageEventProcess  = "event_process"
	StageWebhookIngest = "webhook_ingest"
	StageRenewal       = "renewal"
)

// Ledger transaction kinds reported by RecordLedgerTransaction.
const (
	LedgerKindPayment = "payment"
	LedgerKindRefund  = "refund"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics is the process-wide handle for domain instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	eventsReceived     metric.Int64Counter
	eventsProcessed    metric.Int64Counter
	retries            metric.Int64Counter
	deadEvents         metric.Int64Counter
	ledgerTransactions metric.Int64Counter
	stageDuration      metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payflow"
	}
	meter := provider.Meter(name)

	eventsReceived, err := meter.Int64Counter("provider_events_received_total",
		metric.WithDescription("Provider webhook events accepted for processing."))
	if err != nil {
		return nil, err
	}
	eventsProcessed, err := meter.Int64Counter("provider_events_processed_total",
		metric.WithDescription("Provider events processed by result."))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("retries_total")
	if err != nil {
		return nil, err
	}
	deadEvents, err := meter.Int64Counter("dead_events_total")
	if err != nil {
		return nil, err
	}
	ledgerTransactions, err := meter.Int64Counter("ledger_transactions_total")
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("processing_duration_seconds",
		metric.WithUnit("s"),
		metric.WithDescription("Processing stage latency."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsReceived:     eventsReceived,
		eventsProcessed:    eventsProcessed,
		retries:            retries,
		deadEvents:         deadEvents,
		ledgerTransactions: ledgerTransactions,
		stageDuration:      stageDuration,
	}, nil
}

func (m *Metrics) RecordEventReceived(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("type", strings.TrimSpace(eventType)))
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventProcessed(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", result))
	m.eventsProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1)
}

func (m *Metrics) RecordDeadLetter(ctx context.Context) {
	if m == nil {
		return
	}
	m.deadEvents.Add(ctx, 1)
}

// RecordLedgerTransaction counts a committed ledger transaction by kind (payment, refund).
func (m *Metrics) RecordLedgerTransaction(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", kind))
	m.ledgerTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) ObserveStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("stage", stage))
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"type":   {},
	"result": {},
	"kind":   {},
	"stage":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
