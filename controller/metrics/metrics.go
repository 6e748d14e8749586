// Package metrics exposes prometheus instrumentation for the rollout
// controller and serves it over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
)

// MetricsPath is the endpoint to serve prometheus metrics
const MetricsPath = "/metrics"

// MetricsServer is a prometheus server which collects rollout controller metrics
type MetricsServer struct {
	*http.Server

	reconcileHistogram *prometheus.HistogramVec
	reconcileErrors    *prometheus.CounterVec
	podActionsTotal    *prometheus.CounterVec
	rolloutPhaseGauge  *prometheus.GaugeVec
}

var rolloutPhases = []v1alpha1.RolloutPhase{
	v1alpha1.RolloutIdle,
	v1alpha1.RolloutProgressing,
	v1alpha1.RolloutPaused,
	v1alpha1.RolloutComplete,
	v1alpha1.RolloutFailed,
}

// NewMetricsServer returns a new prometheus server which collects controller metrics
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()

	reconcileHistogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_reconcile",
			Help:    "Rollout reconciliation performance.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.25, 1, 5},
		},
		[]string{"name"},
	)
	reconcileErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_reconcile_error",
			Help: "Error occurring during the rollout reconciliation.",
		},
		[]string{"name"},
	)
	podActionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_pod_actions_total",
			Help: "Count of pod create/delete actions issued by the reconciler.",
		},
		[]string{"name", "action"},
	)
	rolloutPhaseGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollout_phase",
			Help: "Information on the state of the rollout.",
		},
		[]string{"name", "phase"},
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(reconcileHistogram)
	registry.MustRegister(reconcileErrors)
	registry.MustRegister(podActionsTotal)
	registry.MustRegister(rolloutPhaseGauge)
	mux.Handle(MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		Server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		reconcileHistogram: reconcileHistogram,
		reconcileErrors:    reconcileErrors,
		podActionsTotal:    podActionsTotal,
		rolloutPhaseGauge:  rolloutPhaseGauge,
	}
}

// ObserveReconcile adds a reconcile timing to the histogram
func (m *MetricsServer) ObserveReconcile(name string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileHistogram.WithLabelValues(name).Observe(duration.Seconds())
}

// IncError counts a reconciliation error for a rollout
func (m *MetricsServer) IncError(name string) {
	if m == nil {
		return
	}
	m.reconcileErrors.WithLabelValues(name).Inc()
}

// IncPodAction counts an issued pod create/delete action
func (m *MetricsServer) IncPodAction(name, action string) {
	if m == nil {
		return
	}
	m.podActionsTotal.WithLabelValues(name, action).Inc()
}

// SetPhase records the current phase of a rollout as a one-hot gauge
func (m *MetricsServer) SetPhase(name string, phase v1alpha1.RolloutPhase) {
	if m == nil {
		return
	}
	for _, p := range rolloutPhases {
		value := float64(0)
		if p == phase {
			value = 1
		}
		m.rolloutPhaseGauge.WithLabelValues(name, string(p)).Set(value)
	}
}
