package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports practice lifecycle counters to Prometheus.
type Recorder struct {
	registry    *prometheus.Registry
	assignments *prometheus.CounterVec
	finalized   *prometheus.CounterVec
	retries     *prometheus.CounterVec
	content     prometheus.Counter
}

// NewRecorder registers its collectors, plus the Go runtime and process
// collectors, on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "practice_assignments_total",
			Help: "Assignments served, by whether an open attempt was reused.",
		}, []string{"reused"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "practice_attempts_finalized_total",
			Help: "Finalized attempts, by correctness.",
		}, []string{"correct"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "practice_conflict_retries_total",
			Help: "Units re-run after a write conflict, by operation.",
		}, []string{"operation"}),
		content: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "practice_content_failures_total",
			Help: "Content generation calls that failed or returned an invalid task.",
		}),
	}
	r.registry.MustRegister(
		r.assignments,
		r.finalized,
		r.retries,
		r.content,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) AssignmentServed(reused bool) {
	r.assignments.WithLabelValues(boolLabel(reused)).Inc()
}

func (r *Recorder) AttemptFinalized(correct bool) {
	r.finalized.WithLabelValues(boolLabel(correct)).Inc()
}

func (r *Recorder) ConflictRetried(operation string) {
	r.retries.WithLabelValues(operation).Inc()
}

func (r *Recorder) ContentFailed() {
	r.content.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
