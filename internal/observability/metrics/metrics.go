package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters/gauges/histograms for call orchestration.
type CallMetrics struct {
	callsStarted        *prometheus.CounterVec
	callsRejected       *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	turnLatency         prometheus.Histogram
	bargeIns            prometheus.Counter
	paymentSMS          *prometheus.CounterVec
	reconciliations     *prometheus.CounterVec
	terminationEstimate prometheus.Histogram
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecollect",
			Subsystem: "calls",
			Name:      "started_total",
			Help:      "Total calls that reached the telephony gateway",
		}, []string{"direction"}),
		callsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecollect",
			Subsystem: "calls",
			Name:      "rejected_total",
			Help:      "Total pre-flight rejections by category",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecollect",
			Subsystem: "calls",
			Name:      "active_sessions",
			Help:      "Currently registered call sessions",
		}),
		turnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voicecollect",
			Subsystem: "calls",
			Name:      "turn_latency_seconds",
			Help:      "Latency from dispatched utterance to generated reply",
			Buckets:   prometheus.DefBuckets,
		}),
		bargeIns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecollect",
			Subsystem: "calls",
			Name:      "barge_ins_total",
			Help:      "Playback interruptions triggered by caller speech",
		}),
		paymentSMS: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecollect",
			Subsystem: "calls",
			Name:      "payment_sms_total",
			Help:      "Payment SMS send attempts",
		}, []string{"status"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecollect",
			Subsystem: "billing",
			Name:      "reconciliations_total",
			Help:      "Usage reconciliation outcomes at call end",
		}, []string{"status"}),
		terminationEstimate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voicecollect",
			Subsystem: "calls",
			Name:      "termination_estimate_seconds",
			Help:      "Estimated playback durations used to schedule hangups",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.callsStarted,
		m.callsRejected,
		m.activeSessions,
		m.turnLatency,
		m.bargeIns,
		m.paymentSMS,
		m.reconciliations,
		m.terminationEstimate,
	)
	return m
}

func (m *CallMetrics) ObserveCallStarted(direction string) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(direction).Inc()
}

func (m *CallMetrics) ObserveCallRejected(reason string) {
	if m == nil {
		return
	}
	m.callsRejected.WithLabelValues(reason).Inc()
}

func (m *CallMetrics) SessionRegistered() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *CallMetrics) SessionReleased() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *CallMetrics) ObserveTurnLatency(seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.Observe(seconds)
}

func (m *CallMetrics) ObserveBargeIn() {
	if m == nil {
		return
	}
	m.bargeIns.Inc()
}

func (m *CallMetrics) ObservePaymentSMS(status string) {
	if m == nil {
		return
	}
	m.paymentSMS.WithLabelValues(status).Inc()
}

func (m *CallMetrics) ObserveReconciliation(status string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(status).Inc()
}

func (m *CallMetrics) ObserveTerminationEstimate(seconds float64) {
	if m == nil {
		return
	}
	m.terminationEstimate.Observe(seconds)
}
