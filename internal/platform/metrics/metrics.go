package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the order form collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Variant resolution outcomes: hit, refreshed, not_found, above_ceiling, invalid
	ResolutionOutcome *prometheus.CounterVec
	ResolutionLatency prometheus.Histogram

	// Submission outcomes: succeeded, validation, pricing, transient, in_progress
	SubmissionOutcome *prometheus.CounterVec
	SubmissionLatency prometheus.Histogram

	GuardActions *prometheus.CounterVec
	ActiveForms  prometheus.Gauge
}

// New creates a registry with Go runtime collectors and every order form metric registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ResolutionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bfl_variant_resolutions_total",
			Help: "Variant resolutions by outcome",
		}, []string{"outcome"}),
		ResolutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bfl_variant_resolution_duration_seconds",
			Help:    "Duration of variant resolution including any pool refresh",
			Buckets: []float64{0.0005, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		SubmissionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bfl_cart_submissions_total",
			Help: "Cart submissions by outcome",
		}, []string{"outcome"}),
		SubmissionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bfl_cart_submission_duration_seconds",
			Help:    "Duration of a cart submission from validation to cart refresh",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		GuardActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bfl_return_shipping_guard_actions_total",
			Help: "Return shipping guard corrections by action",
		}, []string{"action"}),
		ActiveForms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bfl_form_sessions_active",
			Help: "Form sessions currently held in memory",
		}),
	}
}

// ObserveResolution records a variant resolution outcome.
func (m *Metrics) ObserveResolution(outcome string, elapsed time.Duration) {
	if m != nil {
		m.ResolutionOutcome.WithLabelValues(outcome).Inc()
		m.ResolutionLatency.Observe(elapsed.Seconds())
	}
}

// ObserveSubmission records a cart submission outcome.
func (m *Metrics) ObserveSubmission(outcome string, elapsed time.Duration) {
	if m != nil {
		m.SubmissionOutcome.WithLabelValues(outcome).Inc()
		m.SubmissionLatency.Observe(elapsed.Seconds())
	}
}

// ObserveGuardAction counts a return shipping guard correction.
func (m *Metrics) ObserveGuardAction(action string) {
	if m != nil {
		m.GuardActions.WithLabelValues(action).Inc()
	}
}

// SetActiveForms reports the current number of live form sessions.
func (m *Metrics) SetActiveForms(n int) {
	if m != nil {
		m.ActiveForms.Set(float64(n))
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
