// ABOUTME: Prometheus collectors for channels, turns, escalations and model usage
// ABOUTME: Registered on the default registry and served by Handler

// Package metrics provides Prometheus metrics for the handoff gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedChannels tracks live WebSocket channels by kind (user, agent).
	ConnectedChannels = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "handoff",
			Name:      "connected_channels",
			Help:      "Number of currently connected channels",
		},
		[]string{"kind"},
	)

	// FramesSent counts outbound frames by kind and result.
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "frames_sent_total",
			Help:      "Total outbound frames by channel kind and send result",
		},
		[]string{"kind", "result"},
	)

	// TurnsPersisted counts stored turns by sender.
	TurnsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "turns_persisted_total",
			Help:      "Total conversation turns written to the store",
		},
		[]string{"sender"},
	)

	// Escalations counts conversations moved to pending_agent.
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "escalations_total",
			Help:      "Total conversations escalated to a human operator",
		},
	)

	// Takeovers counts takeover attempts by outcome.
	Takeovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "takeovers_total",
			Help:      "Total takeover attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Resolutions counts conversations closed by an operator.
	Resolutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "resolutions_total",
			Help:      "Total conversations resolved by an operator",
		},
	)

	// AnswerDuration tracks answer generation latency.
	AnswerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "handoff",
			Name:      "answer_duration_seconds",
			Help:      "Duration of answer generation",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	// TokensUsed counts model tokens by type (prompt, completion).
	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "tokens_used_total",
			Help:      "Total model tokens consumed",
		},
		[]string{"type"},
	)
)

// RecordAnswer records a generation attempt.
func RecordAnswer(status string, started time.Time, promptTokens, completionTokens int) {
	AnswerDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	if promptTokens > 0 {
		TokensUsed.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		TokensUsed.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
