// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "z_novel"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// 设定生成会话
	SettingSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "sessions_total",
			Help:      "Total number of setting generation sessions by mode and terminal status",
		},
		[]string{"mode", "status"},
	)

	SettingActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "active_sessions",
			Help:      "Current number of sessions held in the session store",
		},
	)

	SettingRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "rounds_total",
			Help:      "Total number of text rounds by outcome",
		},
		[]string{"outcome"}, // outcome: completed/interrupted/insufficient_credits/route_error/end_marker
	)

	SettingNodesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "nodes_admitted_total",
			Help:      "Total number of admitted setting nodes",
		},
		[]string{"mode", "op"}, // op: create/update
	)

	SettingNodesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "nodes_rejected_total",
			Help:      "Total number of rejected candidate nodes by reason",
		},
		[]string{"reason"},
	)

	ExtractionTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "extraction_tasks_in_flight",
			Help:      "Current number of in-flight extraction tasks",
		},
	)

	ExtractionTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "extraction_task_duration_seconds",
			Help:      "Extraction task duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"status"},
	)

	FallbackParseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "fallback_parse_total",
			Help:      "Total number of fallback text-to-node parses",
		},
		[]string{"trigger", "status"},
	)

	FinalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "finalize_total",
			Help:      "Total number of finalized sessions by outcome",
		},
		[]string{"outcome"},
	)

	StaleTasksCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "stale_tasks_cleared_total",
			Help:      "Total number of stale extraction tasks cleared by the completion gate",
		},
	)

	SettingPersistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setting",
			Name:      "persist_total",
			Help:      "Total number of setting tree handoffs to persistence",
		},
		[]string{"op", "status"}, // op: create/update/reuse
	)

	// LLM 指标
	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total tokens used for LLM calls",
		},
		[]string{"workflow", "provider", "model", "type"}, // type: prompt/completion
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
		[]string{"workflow", "provider", "model"},
	)

	LLMCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_total",
			Help:      "Total number of LLM calls",
		},
		[]string{"workflow", "provider", "model", "status"},
	)

	LLMRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retry_total",
			Help:      "Total number of transient provider retries",
		},
		[]string{"workflow"},
	)

	// 工具调用指标
	ToolCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"workflow", "tool", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1},
		},
		[]string{"workflow", "tool"},
	)

	// 消息流指标
	RedisStreamPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_published_total",
			Help:      "Total number of messages published to Redis streams",
		},
		[]string{"stream", "status"},
	)

	// 缓存与限流指标
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of read-through cache lookups",
		},
		[]string{"cache", "result"}, // result: hit/miss/error
	)

	RateLimitRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)
)
