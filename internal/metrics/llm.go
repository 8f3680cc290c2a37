package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refermail",
			Subsystem: "llm",
			Name:      "backend_calls_total",
			Help:      "补全后端调用总数，按后端与结果分类。",
		},
		[]string{"backend", "outcome"},
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refermail",
			Subsystem: "llm",
			Name:      "backend_call_duration_seconds",
			Help:      "补全后端调用耗时分布（秒）。",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)

	llmParseFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refermail",
			Subsystem: "llm",
			Name:      "parse_failures_total",
			Help:      "后端响应未通过 Shape 校验的次数。",
		},
		[]string{"backend"},
	)
)

// ObserveLLMCall 记录一次补全后端调用。outcome 为 ok/error/rate_limited。
func ObserveLLMCall(backend, outcome string, duration time.Duration) {
	llmCallTotal.WithLabelValues(backend, outcome).Inc()
	llmCallDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// LLMParseFailure 记录一次解析/校验失败。
func LLMParseFailure(backend string) {
	llmParseFailureTotal.WithLabelValues(backend).Inc()
}
