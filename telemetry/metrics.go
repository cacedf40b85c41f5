// Package telemetry provides OpenTelemetry metrics for the fetch-and-cache
// layer: remote fetch counters, cache hit/miss events, and tabular indexing
// counts, exported via Prometheus when enabled.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/tactkit/keg"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often the fallback reader collects (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	remoteFetchTotal      metric.Int64Counter
	remoteFetchBytesTotal metric.Int64Counter
	remoteFetchDuration   metric.Float64Histogram
	cacheEventsTotal      metric.Int64Counter
	tabularRowsTotal      metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(_ context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "keg"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	// Build resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	// Setup Prometheus exporter if enabled
	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	remoteFetchTotal, err := meter.Int64Counter(
		"keg_remote_fetch_total",
		metric.WithDescription("Total number of remote fetch requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	remoteFetchBytesTotal, err := meter.Int64Counter(
		"keg_remote_fetch_bytes_total",
		metric.WithDescription("Total bytes fetched from remote origins"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	remoteFetchDuration, err := meter.Float64Histogram(
		"keg_remote_fetch_duration_seconds",
		metric.WithDescription("Duration of remote fetch requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return err
	}

	cacheEventsTotal, err := meter.Int64Counter(
		"keg_cache_events_total",
		metric.WithDescription("Cache lookups by result (hit or miss)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	tabularRowsTotal, err := meter.Int64Counter(
		"keg_tabular_rows_indexed_total",
		metric.WithDescription("Tabular response rows indexed into the metadata store"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		remoteFetchTotal:      remoteFetchTotal,
		remoteFetchBytesTotal: remoteFetchBytesTotal,
		remoteFetchDuration:   remoteFetchDuration,
		cacheEventsTotal:      cacheEventsTotal,
		tabularRowsTotal:      tabularRowsTotal,
		meterProvider:         mp,
		promHandler:           promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordRemoteFetch records one remote fetch request.
func RecordRemoteFetch(ctx context.Context, origin string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("origin", origin),
		attribute.String("outcome", outcome),
	}
	globalMetrics.remoteFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.remoteFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.remoteFetchBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// RecordCacheEvent records a cache lookup result for an item path category.
func RecordCacheEvent(ctx context.Context, category string, hit bool) {
	if globalMetrics == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	attrs := []attribute.KeyValue{
		attribute.String("category", category),
		attribute.String("result", result),
	}
	globalMetrics.cacheEventsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTabularIndexed records rows written to a dynamically-named table.
func RecordTabularIndexed(ctx context.Context, table string, rows int) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("table", table)}
	globalMetrics.tabularRowsTotal.Add(ctx, int64(rows), metric.WithAttributes(attrs...))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
