package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksExecuted counts finished units of work by task and result status
	TasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_tasks_executed_total",
			Help: "Total number of executed units of work",
		},
		[]string{"task", "status"},
	)

	// TaskDuration tracks how long a unit of work body runs
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instachatico_task_duration_seconds",
			Help:    "Unit of work duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// TaskRetriesScheduled counts explicit re-enqueues
	TaskRetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_task_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"task"},
	)

	// TaskDeadLetters counts units of work that ran out of retries
	TaskDeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_task_dead_letters_total",
			Help: "Total number of units of work that exhausted their retries",
		},
		[]string{"task"},
	)

	// EnqueueFailures counts best-effort dispatches that could not be queued
	EnqueueFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_enqueue_failures_total",
			Help: "Total number of failed task dispatches",
		},
		[]string{"task"},
	)

	// RateLimiterDecisions counts limiter admissions and rejections per bucket
	RateLimiterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_rate_limiter_decisions_total",
			Help: "Rate limiter decisions by bucket key",
		},
		[]string{"key", "decision"},
	)

	// PlatformCalls counts external platform calls by operation and outcome
	PlatformCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_platform_calls_total",
			Help: "Total number of platform API calls",
		},
		[]string{"op", "outcome"},
	)

	// PlatformLatency tracks platform API latency
	PlatformLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instachatico_platform_latency_seconds",
			Help:    "Platform API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// LLMTokens counts tokens consumed per model
	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_llm_tokens_total",
			Help: "Total number of LLM tokens",
		},
		[]string{"model", "direction"},
	)

	// AnswerTransitions counts lifecycle operations on answers
	AnswerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instachatico_answer_transitions_total",
			Help: "Answer lifecycle operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "instachatico_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
