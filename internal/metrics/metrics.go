package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session orchestrator collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Answers           *prometheus.CounterVec
	QuestionsConclude *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionsFinished  prometheus.Counter
	BroadcastsDropped prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Answers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "answers_total",
			Help:      "Answer submissions by outcome",
		}, []string{"outcome"}),
		QuestionsConclude: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "questions_concluded_total",
			Help:      "Questions concluded by trigger",
		}, []string{"trigger"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "livequiz",
			Name:      "sessions_active",
			Help:      "Sessions currently in the active phase",
		}),
		SessionsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "sessions_finished_total",
			Help:      "Sessions closed",
		}),
		BroadcastsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "livequiz",
			Name:      "broadcasts_dropped_total",
			Help:      "Room events that could not be delivered to a socket",
		}),
	}
}

func (m *Metrics) Answer(outcome string) {
	if m == nil {
		return
	}
	m.Answers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Concluded(trigger string) {
	if m == nil {
		return
	}
	m.QuestionsConclude.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionClosed records a close; wasActive tells whether the gauge counted it.
func (m *Metrics) SessionClosed(wasActive bool) {
	if m == nil {
		return
	}
	if wasActive {
		m.SessionsActive.Dec()
	}
	m.SessionsFinished.Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.BroadcastsDropped.Inc()
}
