package observability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the per-invocation metrics of the CLI. The process is
// short-lived, so instruments are exported through a private Prometheus
// registry that can be dumped to a node_exporter textfile at exit.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	// Marketplace API metrics (Latency, Traffic, Errors)
	APIRequestDuration metric.Float64Histogram
	APIRequestsTotal   metric.Int64Counter
	APIErrorsTotal     metric.Int64Counter

	// Job lifecycle metrics
	JobsHired      metric.Int64Counter
	JobChecks      metric.Int64Counter
	JobTransitions metric.Int64Counter
	JobDuration    metric.Float64Histogram
	JobsActive     metric.Int64Gauge

	// Scheduler bridge metrics
	SchedulerCalls metric.Int64Counter
}

// NewMetrics creates all instruments and registers them with a fresh
// Prometheus registry.
func NewMetrics(ctx context.Context) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("sokosumi")
	m := &Metrics{provider: provider, registry: registry}

	m.APIRequestDuration, err = meter.Float64Histogram(
		"api_request_duration_seconds",
		metric.WithDescription("Marketplace API request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	m.APIRequestsTotal, err = meter.Int64Counter(
		"api_requests_total",
		metric.WithDescription("Total number of marketplace API requests"),
	)
	if err != nil {
		return nil, err
	}

	m.APIErrorsTotal, err = meter.Int64Counter(
		"api_errors_total",
		metric.WithDescription("Total number of failed marketplace API requests (transport or non-2xx)"),
	)
	if err != nil {
		return nil, err
	}

	m.JobsHired, err = meter.Int64Counter(
		"jobs_hired_total",
		metric.WithDescription("Total number of jobs created on the marketplace"),
	)
	if err != nil {
		return nil, err
	}

	m.JobChecks, err = meter.Int64Counter(
		"job_checks_total",
		metric.WithDescription("Total number of monitor status checks"),
	)
	if err != nil {
		return nil, err
	}

	m.JobTransitions, err = meter.Int64Counter(
		"job_transitions_total",
		metric.WithDescription("Total number of terminal job transitions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Time from hire to terminal transition in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(60, 120, 300, 600, 1200, 1800, 3600, 6000, 7200),
	)
	if err != nil {
		return nil, err
	}

	m.JobsActive, err = meter.Int64Gauge(
		"jobs_active",
		metric.WithDescription("Number of jobs still tracked as active after the last run"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerCalls, err = meter.Int64Counter(
		"scheduler_calls_total",
		metric.WithDescription("Total number of external scheduler invocations"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAPIRequest records marketplace request metrics. statusCode is 0 when
// no response was received.
func (m *Metrics) RecordAPIRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.APIRequestDuration.Record(ctx, durationSeconds, attrs)
	m.APIRequestsTotal.Add(ctx, 1, attrs)

	if statusCode == 0 || statusCode >= 400 {
		m.APIErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobHired records a job being created.
func (m *Metrics) RecordJobHired(ctx context.Context, monitored bool) {
	m.JobsHired.Add(ctx, 1, metric.WithAttributes(monitoredAttr(monitored)))
}

// RecordJobCheck records one monitor inspection of an active job.
func (m *Metrics) RecordJobCheck(ctx context.Context, success bool) {
	m.JobChecks.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
}

// RecordJobTransition records a job leaving the active set.
func (m *Metrics) RecordJobTransition(ctx context.Context, outcome string, durationSeconds float64) {
	m.JobTransitions.Add(ctx, 1, WithOutcome(outcome))
	if durationSeconds > 0 {
		m.JobDuration.Record(ctx, durationSeconds, WithOutcome(outcome))
	}
}

// RecordJobsActive records the number of jobs left active.
func (m *Metrics) RecordJobsActive(ctx context.Context, count int) {
	m.JobsActive.Record(ctx, int64(count))
}

// RecordSchedulerCall records an external scheduler invocation.
func (m *Metrics) RecordSchedulerCall(ctx context.Context, op string, success bool) {
	m.SchedulerCalls.Add(ctx, 1, metric.WithAttributes(opAttr(op), successAttr(success)))
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes all metrics in the Prometheus text format to path,
// creating parent directories first. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Shutdown releases the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
