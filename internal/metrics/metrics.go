// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnswersTotal counts submissions by terminal stage (RESPONDED, REJECTED_CONFLICT, ...).
	AnswersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_answers_total",
		Help: "Answer submissions by terminal stage",
	}, []string{"stage"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiz_answer_commit_seconds",
		Help:    "Latency of the atomic answer commit",
		Buckets: prometheus.DefBuckets,
	})

	// AIFallbackTotal counts degraded AI calls by kind (feedback, explanation, question).
	AIFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_ai_fallback_total",
		Help: "AI calls that fell back to static output",
	}, []string{"kind"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiz_rate_limit_rejections_total",
		Help: "Requests rejected by the per-user rate limiter",
	})

	PoolRefillTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_pool_refill_total",
		Help: "Generated pool questions by result",
	}, []string{"result"})
)
