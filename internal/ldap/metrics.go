package ldap

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/isometry/terraform-provider-ldap/internal/ldap"

// clientMetrics publishes per-operation counts and latencies through the
// global otel MeterProvider. Without one installed the instruments are no-ops.
type clientMetrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

func newClientMetrics() (*clientMetrics, error) {
	meter := otel.Meter(instrumentationName)

	operations, err := meter.Int64Counter(
		"ldap.client.operations",
		metric.WithDescription("Directory operations issued through a connection handle"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ldap.client.operation.duration",
		metric.WithDescription("Directory operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &clientMetrics{operations: operations, duration: duration}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "failed"
	}
}

func (m *clientMetrics) record(ctx context.Context, op Operation, d time.Duration, err error) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(
		attribute.String("ldap.operation", op.String()),
		attribute.String("ldap.capability", op.Capability().String()),
		attribute.String("ldap.outcome", outcome(err)),
	)
	m.operations.Add(ctx, 1, opt)
	m.duration.Record(ctx, d.Seconds(), opt)
}

// statsCollector exposes a StatsBean to Prometheus.
type statsCollector struct {
	bean   *StatsBean
	active func() int

	operations  *prometheus.Desc
	binds       *prometheus.Desc
	unavailable *prometheus.Desc
	connections *prometheus.Desc
	created     *prometheus.Desc
}

func newStatsCollector(bean *StatsBean, active func() int) *statsCollector {
	return &statsCollector{
		bean:   bean,
		active: active,
		operations: prometheus.NewDesc("ldap_client_operations_total",
			"Directory operations by capability.", []string{"capability"}, nil),
		binds: prometheus.NewDesc("ldap_client_binds_total",
			"Successful binds of new transport connections.", nil, nil),
		unavailable: prometheus.NewDesc("ldap_client_unavailable_total",
			"Operations that failed because no server was available.", nil, nil),
		connections: prometheus.NewDesc("ldap_client_active_connections",
			"Open connection handles.", nil, nil),
		created: prometheus.NewDesc("ldap_client_connections_created_total",
			"Connection handles created by the factory.", nil, nil),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.binds
	ch <- c.unavailable
	ch <- c.connections
	ch <- c.created
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.bean.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(s.Reads), CapabilityRead.String())
	ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(s.Writes), CapabilityWrite.String())
	ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(s.Searches), CapabilitySearch.String())
	ch <- prometheus.MustNewConstMetric(c.binds, prometheus.CounterValue, float64(s.Binds))
	ch <- prometheus.MustNewConstMetric(c.unavailable, prometheus.CounterValue, float64(s.Unavailable))
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(c.active()))
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.Connections))
}
