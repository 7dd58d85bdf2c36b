package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the engine. All methods are nil-receiver safe so the
// engine can run uninstrumented (tests, tools).
type Metrics struct {
	workflowsStarted  *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	activityAttempts  *prometheus.CounterVec
	activityFailures  *prometheus.CounterVec
}

// NewMetrics creates and registers engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		workflowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coldkeeper_workflows_started_total",
			Help: "Workflow instances scheduled, by kind.",
		}, []string{"kind"}),
		workflowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coldkeeper_workflows_finished_total",
			Help: "Workflow instances finished, by kind and terminal status.",
		}, []string{"kind", "status"}),
		activityAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coldkeeper_activity_attempts_total",
			Help: "Activity execution attempts, by activity name.",
		}, []string{"activity"}),
		activityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coldkeeper_activity_failures_total",
			Help: "Failed activity attempts, by activity name.",
		}, []string{"activity"}),
	}
	reg.MustRegister(m.workflowsStarted, m.workflowsFinished, m.activityAttempts, m.activityFailures)
	return m
}

func (m *Metrics) workflowStarted(kind string) {
	if m == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(kind).Inc()
}

func (m *Metrics) workflowFinished(kind string, status Status) {
	if m == nil {
		return
	}
	m.workflowsFinished.WithLabelValues(kind, string(status)).Inc()
}

func (m *Metrics) activityAttempt(name string) {
	if m == nil {
		return
	}
	m.activityAttempts.WithLabelValues(name).Inc()
}

func (m *Metrics) activityFailure(name string) {
	if m == nil {
		return
	}
	m.activityFailures.WithLabelValues(name).Inc()
}
