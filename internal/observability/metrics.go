package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service metrics:
//   - HTTP: latency, traffic and errors per route
//   - Executor: operation latency and outcome per strategy, in-flight calls,
//     queue depth, rejected calls and worker restarts
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	OperationDuration metric.Float64Histogram
	OperationsTotal   metric.Int64Counter
	OperationFailures metric.Int64Counter
	CallsInFlight     metric.Int64UpDownCounter
	QueueDepth        metric.Int64Gauge
	CallsRejected     metric.Int64Counter
	WorkerRestarts    metric.Int64Counter
}

// NewMetrics creates all metrics and a handler serving them in the Prometheus
// text format. Each call uses its own registry.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("aurorarest")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
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

	// The aurora client takes seconds to minutes per call.
	m.OperationDuration, err = meter.Float64Histogram(
		"executor_operation_duration_seconds",
		metric.WithDescription("Time from dequeue to result for one job operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.OperationsTotal, err = meter.Int64Counter(
		"executor_operations_total",
		metric.WithDescription("Total number of job operations completed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.OperationFailures, err = meter.Int64Counter(
		"executor_operation_failures_total",
		metric.WithDescription("Total number of job operations whose result carries errors"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallsInFlight, err = meter.Int64UpDownCounter(
		"executor_calls_in_flight",
		metric.WithDescription("Accepted calls not yet resolved (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueueDepth, err = meter.Int64Gauge(
		"executor_queue_depth",
		metric.WithDescription("Calls waiting for a worker (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallsRejected, err = meter.Int64Counter(
		"executor_calls_rejected_total",
		metric.WithDescription("Calls refused because the executor was closed or saturated"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WorkerRestarts, err = meter.Int64Counter(
		"executor_worker_restarts_total",
		metric.WithDescription("Worker processes replaced after a crash"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordExecutorOperation(ctx context.Context, strategy, op string, durationSeconds float64, failed bool) {
	attrs := metric.WithAttributes(strategyAttr(strategy), opAttr(op), failedAttr(failed))
	m.OperationDuration.Record(ctx, durationSeconds, attrs)
	m.OperationsTotal.Add(ctx, 1, attrs)

	if failed {
		m.OperationFailures.Add(ctx, 1, strategyOp(strategy, op))
	}
}

func (m *Metrics) RecordExecutorInFlight(ctx context.Context, strategy string, delta int64) {
	m.CallsInFlight.Add(ctx, delta, metric.WithAttributes(strategyAttr(strategy)))
}

func (m *Metrics) RecordExecutorQueueDepth(ctx context.Context, strategy string, depth int64) {
	m.QueueDepth.Record(ctx, depth, metric.WithAttributes(strategyAttr(strategy)))
}

func (m *Metrics) RecordExecutorRejected(ctx context.Context, strategy string) {
	m.CallsRejected.Add(ctx, 1, metric.WithAttributes(strategyAttr(strategy)))
}

func (m *Metrics) RecordExecutorWorkerRestart(ctx context.Context, strategy string) {
	m.WorkerRestarts.Add(ctx, 1, metric.WithAttributes(strategyAttr(strategy)))
}
