package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyst_requests_total",
		Help: "Chat requests by terminal state.",
	}, []string{"state"})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyst_plan_steps_total",
		Help: "Executed plan steps by agent and status.",
	}, []string{"agent", "status"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyst_tokens_total",
		Help: "Tokens consumed by model and direction.",
	}, []string{"model", "direction"})

	costTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyst_cost_dollars_total",
		Help: "Accumulated LLM spend by provider.",
	}, []string{"provider"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analyst_request_duration_seconds",
		Help:    "End-to-end chat request latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

// ObserveRequest records a finished chat request.
func ObserveRequest(state string, seconds float64) {
	requestsTotal.WithLabelValues(state).Inc()
	requestDuration.Observe(seconds)
}

// ObserveStep records one executed plan step.
func ObserveStep(agent, status string) {
	stepsTotal.WithLabelValues(agent, status).Inc()
}

func observeRecord(rec Record) {
	tokensTotal.WithLabelValues(rec.ModelName, "prompt").Add(float64(rec.PromptTokens))
	tokensTotal.WithLabelValues(rec.ModelName, "completion").Add(float64(rec.CompletionTokens))
	costTotal.WithLabelValues(rec.Provider).Add(rec.Cost)
}
