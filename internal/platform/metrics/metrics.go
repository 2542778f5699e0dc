// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation in tests.
type Metrics struct {
	gatherer prometheus.Gatherer

	progressWrites   *prometheus.CounterVec
	accessDecisions  *prometheus.CounterVec
	stageSubmissions *prometheus.CounterVec
	trialsStarted    prometheus.Counter
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		progressWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learn",
			Name:      "progress_writes_total",
			Help:      "Progress tree writes by result (ok, stale, error).",
		}, []string{"result"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learn",
			Name:      "access_decisions_total",
			Help:      "Access gate decisions by reason.",
		}, []string{"reason"}),
		stageSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learn",
			Name:      "stage_submissions_total",
			Help:      "Graded stage submissions by stage and outcome.",
		}, []string{"stage", "passed"}),
		trialsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "learn",
			Name:      "trials_started_total",
			Help:      "Trial windows created, including back-fills.",
		}),
	}
	reg.MustRegister(
		m.progressWrites,
		m.accessDecisions,
		m.stageSubmissions,
		m.trialsStarted,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ProgressWrite(result string) {
	if m == nil {
		return
	}
	m.progressWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) AccessDecision(reason string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) StageSubmission(stage int, passed bool) {
	if m == nil {
		return
	}
	m.stageSubmissions.WithLabelValues(strconv.Itoa(stage), strconv.FormatBool(passed)).Inc()
}

func (m *Metrics) TrialStarted() {
	if m == nil {
		return
	}
	m.trialsStarted.Inc()
}
