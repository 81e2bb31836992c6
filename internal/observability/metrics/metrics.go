package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReservationMetrics exposes counters for slot ledger operations.
type ReservationMetrics struct {
	reservationsTotal *prometheus.CounterVec
	slotContention    prometheus.Counter
}

func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	m := &ReservationMetrics{
		reservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "reservations",
			Name:      "operations_total",
			Help:      "Total reservation operations by outcome",
		}, []string{"operation", "status"}),
		slotContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "reservations",
			Name:      "slot_contention_total",
			Help:      "Create/update attempts rejected because the slot was held",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservationsTotal, m.slotContention)
	return m
}

func (m *ReservationMetrics) ObserveReservation(operation, status string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(operation, status).Inc()
	if status == "rejected" {
		m.slotContention.Inc()
	}
}

// DispatchMetrics exposes counters for notification sends.
type DispatchMetrics struct {
	sendsTotal *prometheus.CounterVec
	retrySwept prometheus.Counter
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Total notification sends by outcome",
		}, []string{"status", "deduped"}),
		retrySwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "dispatch",
			Name:      "retry_swept_total",
			Help:      "Notifications re-pushed by the retry sweep",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendsTotal, m.retrySwept)
	return m
}

func (m *DispatchMetrics) ObserveSend(status string, deduped bool) {
	if m == nil {
		return
	}
	label := "false"
	if deduped {
		label = "true"
	}
	m.sendsTotal.WithLabelValues(status, label).Inc()
}

func (m *DispatchMetrics) ObserveRetrySweep(count int) {
	if m == nil {
		return
	}
	m.retrySwept.Add(float64(count))
}

// ReconcileMetrics exposes gauges/counters for reconciler runs.
type ReconcileMetrics struct {
	runsTotal    *prometheus.CounterVec
	driftCurrent prometheus.Gauge
	repairsTotal *prometheus.CounterVec
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total reconciler scan runs",
		}, []string{"status"}),
		driftCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "reconcile",
			Name:      "row_drift_current",
			Help:      "Row-mapping drift entries found by the last scan",
		}),
		repairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "reconcile",
			Name:      "repairs_total",
			Help:      "Repair operations by mode (dry_run or commit)",
		}, []string{"mode"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.driftCurrent, m.repairsTotal)
	return m
}

func (m *ReconcileMetrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *ReconcileMetrics) SetDrift(n int) {
	if m == nil {
		return
	}
	m.driftCurrent.Set(float64(n))
}

func (m *ReconcileMetrics) ObserveRepair(commit bool) {
	if m == nil {
		return
	}
	mode := "dry_run"
	if commit {
		mode = "commit"
	}
	m.repairsTotal.WithLabelValues(mode).Inc()
}
