package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiCallsLatency,
		aiDroppedComments,
	)
}

var (
	aiCallsLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_ai_call_seconds",
			Help:    "AI provider call latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"provider", "model", "success"},
	)

	aiDroppedComments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_ai_dropped_comments_total",
			Help: "Model comments discarded as malformed.",
		},
		[]string{"provider"},
	)
)

func ObserveProviderCall(provider, model string, d time.Duration, success bool) {
	aiCallsLatency.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).Observe(d.Seconds())
}

func ObserveDroppedComments(provider string, n int) {
	aiDroppedComments.WithLabelValues(norm(provider)).Add(float64(n))
}
