// Package metrics exposes Prometheus instrumentation for the Krate core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters shared by the service layer. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	uploadedBytesTotal prometheus.Counter
	auditDroppedTotal  prometheus.Counter
	sharesResolved     *prometheus.CounterVec
}

// New registers the Krate metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "krate_operations_total",
				Help: "Total number of core operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		uploadedBytesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "krate_uploaded_bytes_total",
				Help: "Total bytes accepted by file uploads",
			},
		),
		auditDroppedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "krate_audit_dropped_total",
				Help: "Activity records dropped because the audit write failed",
			},
		),
		sharesResolved: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "krate_shares_resolved_total",
				Help: "Share token resolutions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Operation records one core operation with its outcome.
func (m *Metrics) Operation(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// UploadedBytes records bytes accepted by an upload.
func (m *Metrics) UploadedBytes(n int64) {
	if m == nil {
		return
	}
	m.uploadedBytesTotal.Add(float64(n))
}

// AuditDropped records a swallowed activity write failure.
func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDroppedTotal.Inc()
}

// ShareResolved records one share resolution outcome (ok, not_found, expired).
func (m *Metrics) ShareResolved(outcome string) {
	if m == nil {
		return
	}
	m.sharesResolved.WithLabelValues(outcome).Inc()
}
