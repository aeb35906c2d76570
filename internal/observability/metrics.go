// Package observability provides application metrics for the Songforge API.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics for the generation orchestrator.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Generation lifecycle metrics
	SubmissionsTotal  metric.Int64Counter
	CompletionsTotal  metric.Int64Counter // labelled by source (poll|callback|status) and success
	GenerationsActive metric.Int64UpDownCounter
	SweeperExpired    metric.Int64Counter

	// Status cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
// The returned handler serves the /metrics scrape endpoint.
func NewMetrics(_ context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("songforge")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubmissionsTotal, err = meter.Int64Counter(
		"generation_submissions_total",
		metric.WithDescription("Total generation submissions to the provider"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CompletionsTotal, err = meter.Int64Counter(
		"generation_completions_total",
		metric.WithDescription("Total terminal writes, by completion source"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.GenerationsActive, err = meter.Int64UpDownCounter(
		"generations_active",
		metric.WithDescription("Number of songs currently in PROCESSING"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SweeperExpired, err = meter.Int64Counter(
		"sweeper_expired_total",
		metric.WithDescription("Total songs force-failed by the expiry sweeper"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"status_cache_hits_total",
		metric.WithDescription("Status cache hits, by cache shape"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"status_cache_misses_total",
		metric.WithDescription("Status cache misses, by cache shape"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSubmission records a provider submission attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
	if success {
		m.GenerationsActive.Add(ctx, 1)
	}
}

// RecordCompletion records a terminal write and which signal produced it.
func (m *Metrics) RecordCompletion(ctx context.Context, source string, success bool) {
	if m == nil {
		return
	}
	m.CompletionsTotal.Add(ctx, 1, metric.WithAttributes(sourceAttr(source), successAttr(success)))
	m.GenerationsActive.Add(ctx, -1)
}

// RecordSweeperExpired records songs force-failed by the sweeper.
func (m *Metrics) RecordSweeperExpired(ctx context.Context, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.SweeperExpired.Add(ctx, count)
	m.GenerationsActive.Add(ctx, -count)
}

// RecordCacheHit records a status cache hit for the given cache shape.
func (m *Metrics) RecordCacheHit(ctx context.Context, shape string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(shapeAttr(shape)))
}

// RecordCacheMiss records a status cache miss for the given cache shape.
func (m *Metrics) RecordCacheMiss(ctx context.Context, shape string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(shapeAttr(shape)))
}
