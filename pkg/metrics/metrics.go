// Package metrics holds the Prometheus collectors for ledger and report
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricLedgerAppendsTotal    = "takweed_ledger_appends_total"
	MetricLedgerAnomaliesTotal  = "takweed_ledger_anomalies_total"
	MetricReportBuildDuration   = "takweed_report_build_duration_seconds"
	MetricIntersectionsRejected = "takweed_intersections_rejected_total"
)

// Append outcomes.
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusRejected = "rejected"
	StatusFailure  = "failure"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	appends        *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	reportDuration *prometheus.HistogramVec
	rejected       prometheus.Counter
}

// New creates the collectors without registering them.
func New() *Metrics {
	return &Metrics{
		appends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLedgerAppendsTotal,
				Help: "History entries appended to traceability ledgers by transaction type and outcome",
			},
			[]string{"transaction_type", "status"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLedgerAnomaliesTotal,
				Help: "Data-integrity anomalies found while replaying ledgers, by kind",
			},
			[]string{"kind"},
		),
		reportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricReportBuildDuration,
				Help:    "Time spent building reports, by report",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"report"},
		),
		rejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricIntersectionsRejected,
				Help: "Intersection batches rejected for violating plot area bounds",
			},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.appends, m.anomalies, m.reportDuration, m.rejected} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) RecordAppend(txType, status string) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

// ObserveReport records the time since start for report.
func (m *Metrics) ObserveReport(report string, start time.Time) {
	if m == nil {
		return
	}
	m.reportDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordRejectedIntersections() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
