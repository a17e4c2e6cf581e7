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

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	archiveDates     metric.Int64Counter
	archiveRecords   metric.Int64Counter
	archiveItems     metric.Int64Counter
	cacheWrites      metric.Int64Counter
	productLookups   metric.Int64Counter
	bundleExpansions metric.Int64Counter
	pacerWaits       metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
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
		name = "packline"
	}
	meter := provider.Meter(name)

	archiveDates, err := meter.Int64Counter("packline_archive_dates_total")
	if err != nil {
		return nil, err
	}
	archiveRecords, err := meter.Int64Counter("packline_archive_records_total")
	if err != nil {
		return nil, err
	}
	archiveItems, err := meter.Int64Counter("packline_archive_items_total")
	if err != nil {
		return nil, err
	}
	cacheWrites, err := meter.Int64Counter("packline_cache_writes_total")
	if err != nil {
		return nil, err
	}
	productLookups, err := meter.Int64Counter("packline_product_lookups_total")
	if err != nil {
		return nil, err
	}
	bundleExpansions, err := meter.Int64Counter("packline_bundle_expansions_total")
	if err != nil {
		return nil, err
	}
	pacerWaits, err := meter.Int64Counter("packline_pacer_waits_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		archiveDates:     archiveDates,
		archiveRecords:   archiveRecords,
		archiveItems:     archiveItems,
		cacheWrites:      cacheWrites,
		productLookups:   productLookups,
		bundleExpansions: bundleExpansions,
		pacerWaits:       pacerWaits,
	}, nil
}

// RecordDateArchived increments archived date counts by outcome.
func (m *Metrics) RecordDateArchived(ctx context.Context, job, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.archiveDates.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRecordsArchived adds enriched packaging record counts.
func (m *Metrics) RecordRecordsArchived(ctx context.Context, job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("job", strings.TrimSpace(job)))
	m.archiveRecords.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordItemsArchived adds enriched packaging item counts.
func (m *Metrics) RecordItemsArchived(ctx context.Context, job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("job", strings.TrimSpace(job)))
	m.archiveItems.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordCacheWrite increments cache upsert counts by operation.
func (m *Metrics) RecordCacheWrite(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.cacheWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProductLookup increments product resolution counts by source and outcome.
func (m *Metrics) RecordProductLookup(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.productLookups.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBundleExpansion increments bundle component resolution counts by outcome.
func (m *Metrics) RecordBundleExpansion(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.bundleExpansions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPacerWait increments pacer wait counts for a collection.
func (m *Metrics) RecordPacerWait(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("collection", strings.TrimSpace(collection)))
	m.pacerWaits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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
	"job":         {},
	"status":      {},
	"operation":   {},
	"source":      {},
	"outcome":     {},
	"collection":  {},
	"reason":      {},
	"endpoint":    {},
	"status_code": {},
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
