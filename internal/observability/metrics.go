package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/vaedprasad/slidingquota/internal/quota"
)

// QuotaMetrics is the quota.Metrics implementation backed by an OTel
// meter reading through a Prometheus exporter, following the
// InitMetrics/PrometheusMetrics split used for the retrieved package's
// own observability setup (pkg/observability/metrics.go).
type QuotaMetrics struct {
	registry    *prometheus.Registry
	checksTotal metric.Int64Counter
	checkLatency metric.Float64Histogram
	backendErrors metric.Int64Counter
}

// NewQuotaMetrics wires a dedicated Prometheus registry (rather than the
// global default) so the demo binary can mount /metrics without clashing
// with anything else in-process.
func NewQuotaMetrics() (*QuotaMetrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("slidingquota")

	checksTotal, err := meter.Int64Counter(
		"quota_checks_total",
		metric.WithDescription("Total resource-manager evaluations by result, including rejections that are retried"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks counter: %w", err)
	}

	checkLatency, err := meter.Float64Histogram(
		"quota_check_latency_seconds",
		metric.WithDescription("Latency of a single resource-manager evaluation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check latency histogram: %w", err)
	}

	backendErrors, err := meter.Int64Counter(
		"quota_backend_errors_total",
		metric.WithDescription("Store operations that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend errors counter: %w", err)
	}

	return &QuotaMetrics{
		registry:      registry,
		checksTotal:   checksTotal,
		checkLatency:  checkLatency,
		backendErrors: backendErrors,
	}, nil
}

// Registry exposes the underlying Prometheus registry so an HTTP server
// can mount a scrape handler against it.
func (m *QuotaMetrics) Registry() *prometheus.Registry { return m.registry }

func (m *QuotaMetrics) IncCheck(result string, limitType string) {
	m.checksTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("result", result),
			attribute.String("limit_type", limitType),
		),
	)
}

func (m *QuotaMetrics) ObserveCheckLatency(d time.Duration) {
	m.checkLatency.Record(context.Background(), d.Seconds())
}

func (m *QuotaMetrics) IncBackendError(op string) {
	m.backendErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

var _ quota.Metrics = (*QuotaMetrics)(nil)
