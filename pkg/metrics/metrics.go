// Package metrics exposes Prometheus collectors for the HFI host stack.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "softgmu"

// Transaction results.
const (
	ResultOK       = "ok"
	ResultFull     = "queue_full"
	ResultTimeout  = "timeout"
	ResultMissing  = "missing"
	ResultRejected = "rejected"
	ResultCorrupt  = "corrupt"
	ResultError    = "error"
)

// Metrics holds the collectors for one host.
type Metrics struct {
	Transactions       *prometheus.CounterVec
	TransactionSeconds *prometheus.HistogramVec
	QueueFull          *prometheus.CounterVec
	FirmwareErrors     *prometheus.CounterVec
	StaleResponses     prometheus.Counter
	LogRecords         prometheus.Counter
	SessionState       prometheus.Gauge
	Bootstraps         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "transactions_total",
				Help:      "Number of HFI transactions by message and result",
			},
			[]string{"message", "result"},
		),
		TransactionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Time from queue write to response, by message",
				Buckets:   []float64{50e-6, 100e-6, 250e-6, 500e-6, 1e-3, 2.5e-3, 5e-3, 10e-3},
			},
			[]string{"message"},
		),
		QueueFull: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "queue_full_total",
				Help:      "Number of writes rejected for lack of queue space",
			},
			[]string{"queue"},
		),
		FirmwareErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "firmware_error_reports_total",
				Help:      "Number of asynchronous error reports from the firmware",
			},
			[]string{"code"},
		),
		StaleResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "stale_responses_total",
				Help:      "Number of responses discarded for a sequence mismatch",
			},
		),
		LogRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "log_records_total",
				Help:      "Number of records drained from the firmware log queue",
			},
		),
		SessionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "session_state",
				Help:      "Current bootstrap session state",
			},
		),
		Bootstraps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "bootstraps_total",
				Help:      "Number of completed bootstrap attempts by result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Transactions,
			m.TransactionSeconds,
			m.QueueFull,
			m.FirmwareErrors,
			m.StaleResponses,
			m.LogRecords,
			m.SessionState,
			m.Bootstraps,
		)
	}
	return m
}

// ObserveTransaction records one finished transaction.
func (m *Metrics) ObserveTransaction(message, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(message, result).Inc()
	if result == ResultOK {
		m.TransactionSeconds.WithLabelValues(message).Observe(d.Seconds())
	}
}

// IncQueueFull records a rejected write.
func (m *Metrics) IncQueueFull(queue string) {
	if m == nil {
		return
	}
	m.QueueFull.WithLabelValues(queue).Inc()
}

// IncFirmwareError records an asynchronous error report.
func (m *Metrics) IncFirmwareError(code string) {
	if m == nil {
		return
	}
	m.FirmwareErrors.WithLabelValues(code).Inc()
}

// IncStaleResponse records a discarded response.
func (m *Metrics) IncStaleResponse() {
	if m == nil {
		return
	}
	m.StaleResponses.Inc()
}

// AddLogRecords records drained log records.
func (m *Metrics) AddLogRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LogRecords.Add(float64(n))
}

// SetSessionState records the session state ordinal.
func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

// IncBootstrap records a finished bootstrap attempt.
func (m *Metrics) IncBootstrap(ok bool) {
	if m == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultError
	}
	m.Bootstraps.WithLabelValues(result).Inc()
}
