package job

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors updated by the runner and poller.
type Metrics struct {
	submissions  *prometheus.CounterVec
	statusChecks prometheus.Counter
	timeouts     prometheus.Counter
	waitSeconds  *prometheus.HistogramVec
}

// NewMetrics creates the job collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bqflow_job_submissions_total",
				Help: "Total number of BigQuery jobs submitted, by kind and outcome.",
			},
			[]string{"kind", "status"},
		),
		statusChecks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bqflow_job_status_checks_total",
				Help: "Total number of job status checks issued by pollers.",
			},
		),
		timeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bqflow_job_timeouts_total",
				Help: "Total number of jobs that exceeded their poll deadline.",
			},
		),
		waitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bqflow_job_wait_seconds",
				Help:    "Time spent waiting for jobs to reach a terminal state.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.statusChecks, m.timeouts, m.waitSeconds)
	}
	return m
}

func (m *Metrics) observeSubmission(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.submissions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) observeCheck() {
	if m == nil {
		return
	}
	m.statusChecks.Inc()
}

func (m *Metrics) observeWait(outcome string, seconds float64) {
	if m == nil {
		return
	}
	if outcome == "timeout" {
		m.timeouts.Inc()
	}
	m.waitSeconds.WithLabelValues(outcome).Observe(seconds)
}
