// Package metrics exposes engine counters to Prometheus.
//
// Every method is safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	payments       *prometheus.CounterVec
	penalties      prometheus.Counter
	payouts        *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
	schedulerRuns  *prometheus.CounterVec
	payoutsPending prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ajo",
			Name:      "payments_total",
			Help:      "Inbound payment confirmations by outcome.",
		}, []string{"kind", "result"}),
		penalties: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ajo",
			Name:      "penalties_applied_total",
			Help:      "Late penalties created by the penalty engine.",
		}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ajo",
			Name:      "payouts_total",
			Help:      "Payout state transitions by resulting status.",
		}, []string{"status"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ajo",
			Name:      "payout_dispatch_attempts_total",
			Help:      "Transfer initiations sent to the gateway by outcome.",
		}, []string{"result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ajo",
			Name:      "gateway_callbacks_total",
			Help:      "Transfer callbacks received by outcome.",
		}, []string{"result"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ajo",
			Name:      "scheduler_runs_total",
			Help:      "Scheduler job runs by job and outcome.",
		}, []string{"job", "result"}),
		payoutsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ajo",
			Name:      "payouts_due",
			Help:      "Payouts due for an initiation attempt at the last sweep.",
		}),
	}

	reg.MustRegister(m.payments, m.penalties, m.payouts, m.dispatches, m.callbacks, m.schedulerRuns, m.payoutsPending)
	return m
}

// PaymentApplied counts an inbound payment by kind (contribution, penalty,
// deposit) and result (applied, duplicate, amount_mismatch, conflict, failed).
func (m *Metrics) PaymentApplied(kind, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(kind, result).Inc()
}

// PenaltiesApplied counts newly created penalties.
func (m *Metrics) PenaltiesApplied(n int) {
	if m == nil {
		return
	}
	m.penalties.Add(float64(n))
}

// PayoutStatus counts a payout reaching status.
func (m *Metrics) PayoutStatus(status string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
}

// DispatchAttempt counts a transfer initiation by result (acknowledged,
// retry_scheduled, exhausted, rejected).
func (m *Metrics) DispatchAttempt(result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(result).Inc()
}

// Callback counts a transfer callback by result (completed, failed, duplicate).
func (m *Metrics) Callback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result).Inc()
}

// SchedulerRun counts one scheduler job run.
func (m *Metrics) SchedulerRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.schedulerRuns.WithLabelValues(job, result).Inc()
}

// PayoutsDue records how many payouts the last sweep found due.
func (m *Metrics) PayoutsDue(n int) {
	if m == nil {
		return
	}
	m.payoutsPending.Set(float64(n))
}
