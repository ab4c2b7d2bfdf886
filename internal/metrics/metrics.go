// Package metrics exposes Prometheus collectors for degassing advisories.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "degasline"

// Recorder owns the advisory collectors and the registry they live in.
type Recorder struct {
	registry     *prometheus.Registry
	advisories   *prometheus.CounterVec
	blocked      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	daysToSafety prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisories_total",
			Help:      "Advisories produced, by model and risk level.",
		}, []string{"model", "risk"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_blocked_total",
			Help:      "Advisories that blocked dispatch, by model.",
		}, []string{"model"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_failures_total",
			Help:      "Advisories rejected for unrecognized inputs, by model.",
		}, []string{"model"}),
		daysToSafety: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "days_to_safety",
			Help:      "Simulated days until pressure settles under the packaging limit.",
			Buckets:   []float64{3, 5, 7, 10, 14, 18, 22},
		}),
	}
	r.registry.MustRegister(r.advisories, r.blocked, r.failures, r.daysToSafety)
	return r
}

// ObserveAdvice records one successful advisory.
func (r *Recorder) ObserveAdvice(model, risk string, blocked bool) {
	if r == nil {
		return
	}
	r.advisories.WithLabelValues(model, risk).Inc()
	if blocked {
		r.blocked.WithLabelValues(model).Inc()
	}
}

// ObserveDaysToSafety records a simulated stabilization time.
func (r *Recorder) ObserveDaysToSafety(days int) {
	if r == nil {
		return
	}
	r.daysToSafety.Observe(float64(days))
}

// ObserveFailure records an advisory rejected by the model.
func (r *Recorder) ObserveFailure(model string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(model).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
