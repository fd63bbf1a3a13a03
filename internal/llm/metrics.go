package llm

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "nl2sql"

// Throttle wait reasons.
const (
	waitRateLimited = "rate_limited"
	waitTokens      = "tokens"
	waitRequests    = "requests"
	waitPacing      = "pacing"
)

type metrics struct {
	responses        *prometheus.CounterVec
	waits            *prometheus.CounterVec
	waitSeconds      *prometheus.CounterVec
	malformed        prometheus.Counter
	completionTokens prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completion_responses_total",
			Help:      "Chat completion responses by HTTP status code.",
		}, []string{"code"}),
		waits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "throttle_waits_total",
			Help:      "Sleeps taken before or after a completion call, by reason.",
		}, []string{"reason"}),
		waitSeconds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "throttle_wait_seconds_total",
			Help:      "Seconds slept waiting on rate limits, by reason.",
		}, []string{"reason"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_responses_total",
			Help:      "Responses without choices[0].message.content.",
		}),
		completionTokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completion_tokens_total",
			Help:      "Completion tokens reported by the endpoint.",
		}),
	}
}

func (m *metrics) observeResponse(code int) {
	m.responses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *metrics) observeWait(reason string, d time.Duration) {
	m.waits.WithLabelValues(reason).Inc()
	m.waitSeconds.WithLabelValues(reason).Add(d.Seconds())
}
