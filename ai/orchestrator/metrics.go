package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dost_turns_total",
		Help: "Chat turns handled, by tier and outcome.",
	}, []string{"tier", "outcome"})

	quotaDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dost_quota_denials_total",
		Help: "Admission denials by reason.",
	}, []string{"reason"})

	searchCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dost_search_calls_total",
		Help: "Search lookups by provider (cache counts as a provider).",
	}, []string{"provider"})

	predictionCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dost_prediction_cache_total",
		Help: "Prediction cache lookups by result.",
	}, []string{"result"})

	responseCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dost_response_cache_total",
		Help: "Response cache lookups by result.",
	}, []string{"result"})

	llmTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dost_llm_tokens_total",
		Help: "Total LLM tokens spent.",
	})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dost_turn_duration_seconds",
		Help:    "End-to-end turn latency.",
		Buckets: prometheus.DefBuckets,
	})
)
