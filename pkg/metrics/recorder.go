// Package metrics provides Prometheus-based metrics recording for the
// workflow engine. Metrics are exposed by the backend's /metrics
// endpoint and scraped externally; nothing in the engine queries them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records turn-level engine metrics.
type Recorder struct {
	turnsTotal          *prometheus.CounterVec
	droppedUpdatesTotal *prometheus.CounterVec
	parseWarningsTotal  prometheus.Counter
	plansCommittedTotal prometheus.Counter
	plansHeldTotal      prometheus.Counter
	focusRejectedTotal  prometheus.Counter
	turnDuration        *prometheus.HistogramVec
}

// NewRecorder creates a Recorder registered on reg. Pass nil to use the
// default registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_turns_total",
				Help: "Total number of processed turns by command kind and phase",
			},
			[]string{"command", "phase"},
		),
		droppedUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_dropped_updates_total",
				Help: "Total number of todo updates rejected by the sanitizer",
			},
			[]string{"reason"},
		),
		parseWarningsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_parse_warnings_total",
				Help: "Total number of artifact parser warnings",
			},
		),
		plansCommittedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_plans_committed_total",
				Help: "Total number of plans committed to the store",
			},
		),
		plansHeldTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_plans_held_total",
				Help: "Total number of plans held back on open clarifications",
			},
		),
		focusRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_focus_rejected_total",
				Help: "Total number of focus requests outside the allowed set",
			},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_turn_duration_seconds",
				Help:    "Duration of engine turn phases in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
	}
}

// ObserveTurn records one completed turn phase ("pre" or "post").
func (r *Recorder) ObserveTurn(command, phase string, duration time.Duration) {
	if r == nil {
		return
	}
	r.turnsTotal.WithLabelValues(command, phase).Inc()
	r.turnDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// IncDroppedUpdate records one sanitizer rejection. reason must be a
// stable drop code, never free text, to keep label cardinality bounded.
func (r *Recorder) IncDroppedUpdate(reason string) {
	if r == nil {
		return
	}
	r.droppedUpdatesTotal.WithLabelValues(reason).Inc()
}

// AddParseWarnings records parser warnings from one response.
func (r *Recorder) AddParseWarnings(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.parseWarningsTotal.Add(float64(n))
}

// IncPlanCommitted records one committed plan replacement.
func (r *Recorder) IncPlanCommitted() {
	if r == nil {
		return
	}
	r.plansCommittedTotal.Inc()
}

// IncPlanHeld records one plan held back pending clarifications.
func (r *Recorder) IncPlanHeld() {
	if r == nil {
		return
	}
	r.plansHeldTotal.Inc()
}

// IncFocusRejected records one discarded focus request.
func (r *Recorder) IncFocusRejected() {
	if r == nil {
		return
	}
	r.focusRejectedTotal.Inc()
}
