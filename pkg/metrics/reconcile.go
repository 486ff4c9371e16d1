package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics counts reconciliation outcomes and provider calls.
type ReconcileMetrics struct {
	events        *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subsync_events_total",
		Help: "Billing events processed by the reconciliation engine.",
	}, []string{"type", "status", "reason"})
	providerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subsync_provider_calls_total",
		Help: "Calls issued to the billing provider.",
	}, []string{"op", "outcome"})
	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subsync_anomalies_total",
		Help: "Owners observed with more than one live subscription.",
	}, []string{"source"})
	reg.MustRegister(events, providerCalls, anomalies)
	return &ReconcileMetrics{
		events:        events,
		providerCalls: providerCalls,
		anomalies:     anomalies,
	}
}

// ObserveEvent counts one processed event.
func (m *ReconcileMetrics) ObserveEvent(eventType, status, reason string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(status), reason).Inc()
}

// ObserveProviderCall counts one provider call by operation and outcome.
func (m *ReconcileMetrics) ObserveProviderCall(op string, err error) {
	if m == nil || m.providerCalls == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(normalizeLabel(op), outcome).Inc()
}

// IncAnomaly counts one detected multi-live anomaly.
func (m *ReconcileMetrics) IncAnomaly(source string) {
	if m == nil || m.anomalies == nil {
		return
	}
	m.anomalies.WithLabelValues(normalizeLabel(source)).Inc()
}
