package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors fed by the engine hooks.
type Metrics struct {
	registry *prometheus.Registry

	turns          *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	rulesFired     *prometheus.CounterVec
	prompts        *prometheus.CounterVec
	promptOutcomes *prometheus.CounterVec
	recognizerFail prometheus.Counter
	activitiesSent prometheus.Counter
}

// NewMetrics registers the collectors on a private registry, together with the Go and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_turns_total",
			Help: "Turns processed, by turn type and result.",
		}, []string{"type", "result"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_turn_duration_seconds",
			Help:    "Time to process a turn, including state load and commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		rulesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_rules_fired_total",
			Help: "Trigger rules selected, by rule name.",
		}, []string{"rule"}),
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_prompts_total",
			Help: "Prompts started, by kind.",
		}, []string{"kind"}),
		promptOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_prompt_outcomes_total",
			Help: "Prompt transitions, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		recognizerFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_recognizer_failures_total",
			Help: "Recognizer errors or timeouts that fell back to the unknown intent.",
		}),
		activitiesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_activities_sent_total",
			Help: "Outbound activities produced by committed turns.",
		}),
	}
	m.registry.MustRegister(
		m.turns, m.turnDuration, m.rulesFired, m.prompts, m.promptOutcomes,
		m.recognizerFail, m.activitiesSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns the lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnEnd: func(_ context.Context, e *domain.TurnInfo) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.turns.WithLabelValues(string(e.TurnType), result).Inc()
			m.turnDuration.WithLabelValues(string(e.TurnType)).Observe(e.Duration.Seconds())
			m.activitiesSent.Add(float64(e.Sent))
		},
		OnRuleFired: func(_ context.Context, e *domain.TurnInfo) {
			m.rulesFired.WithLabelValues(e.Rule).Inc()
		},
		OnPromptBegin: func(_ context.Context, e *domain.PromptEvent) {
			m.prompts.WithLabelValues(string(e.Kind)).Inc()
		},
		OnPromptOutcome: func(_ context.Context, e *domain.PromptEvent) {
			m.promptOutcomes.WithLabelValues(string(e.Kind), string(e.Outcome)).Inc()
		},
		OnRecognizerFail: func(context.Context, *domain.RecognizerEvent) {
			m.recognizerFail.Inc()
		},
	}
}
