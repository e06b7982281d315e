package executor

import (
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the research run collectors. A nil *Metrics records nothing.
type Metrics struct {
	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	clarifications prometheus.Counter
	answers        prometheus.Counter
	resets         prometheus.Counter
	duration       prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "runs_started_total",
			Help:      "Research runs accepted by the executor.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "runs_completed_total",
			Help:      "Research runs finished, by outcome.",
		}, []string{"status"}),
		clarifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "clarifications_asked_total",
			Help:      "Clarification questions posted to the user.",
		}),
		answers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "clarifications_answered_total",
			Help:      "Clarification answers accepted from the user.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "session_resets_total",
			Help:      "Session resets.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepresearch",
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished research runs.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
	reg.MustRegister(m.runsStarted, m.runsCompleted, m.clarifications, m.answers, m.resets, m.duration)
	return m
}

// TrackSession exposes the session queue depths as gauges read at scrape time.
func (m *Metrics) TrackSession(reg prometheus.Registerer, s *session.Session) {
	gauge := func(name, help string, read func(session.State) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "deepresearch",
			Subsystem: "session",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(s.Snapshot()) })
	}
	reg.MustRegister(
		gauge("pending_progress", "Progress messages not yet polled.", func(st session.State) float64 { return float64(st.PendingProgress) }),
		gauge("pending_questions", "Questions not yet polled.", func(st session.State) float64 { return float64(st.PendingQuestions) }),
		gauge("pending_completions", "Completions not yet polled.", func(st session.State) float64 { return float64(st.PendingCompletions) }),
		gauge("awaiting_answer", "1 while a question is outstanding.", func(st session.State) float64 { return boolGauge(st.Awaiting) }),
		gauge("run_active", "1 while a research run is active.", func(st session.State) float64 { return boolGauge(st.RunActive) }),
	)
}

// Observe is a session.Observer counting questions, answers and resets.
func (m *Metrics) Observe(e session.Event) {
	if m == nil {
		return
	}
	switch e.Kind {
	case session.EventQuestion:
		m.clarifications.Inc()
	case session.EventAnswer:
		m.answers.Inc()
	case session.EventReset:
		m.resets.Inc()
	}
}

func (m *Metrics) started() {
	if m != nil {
		m.runsStarted.Inc()
	}
}

func (m *Metrics) finished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
