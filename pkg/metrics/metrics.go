// Package metrics provides Prometheus metrics for the router.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoutingOutcomesTotal tracks routing dispositions by outcome (routed, no_match, failed, stalled)
	RoutingOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "routing",
			Name:      "outcomes_total",
			Help:      "Total number of routing dispositions by outcome",
		},
		[]string{"outcome", "stage"},
	)

	// RoutingDuration tracks the duration of a full routing run
	RoutingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "routing",
			Name:      "duration_seconds",
			Help:      "Duration of routing runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// StageDuration tracks the duration of each routing stage
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "routing",
			Name:      "stage_duration_seconds",
			Help:      "Duration of routing stages in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"stage"},
	)

	// CandidatesPerNotification tracks how many license-eligible subscribers each notification had
	CandidatesPerNotification = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "eligibility",
			Name:      "candidates",
			Help:      "Number of license-eligible subscribers per notification",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// MatchesTotal tracks subscriber match evaluations by result
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "matching",
			Name:      "evaluations_total",
			Help:      "Total number of subscriber match evaluations by result",
		},
		[]string{"result"},
	)

	// MatchesInFlight tracks candidate evaluations currently running
	MatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "router",
			Subsystem: "matching",
			Name:      "in_flight",
			Help:      "Number of candidate evaluations currently running",
		},
	)

	// RepackagingTotal tracks repackaging requests by status
	RepackagingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "repackaging",
			Name:      "requests_total",
			Help:      "Total number of repackaging requests by status",
		},
		[]string{"status"},
	)

	// KafkaMessagesConsumed tracks consumed Kafka messages
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DLQMessagesTotal tracks messages sent to the dead letter queue
	DLQMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "dlq",
			Name:      "messages_total",
			Help:      "Total number of messages sent to dead letter queue",
		},
		[]string{"reason"},
	)

	// SchedulerRetriesTotal tracks notifications re-submitted by the scheduler
	SchedulerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "scheduler",
			Name:      "retries_total",
			Help:      "Total number of notifications re-submitted for routing",
		},
		[]string{"status"},
	)

	// RegisterCacheTotal tracks license register cache lookups
	RegisterCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "register_cache",
			Name:      "lookups_total",
			Help:      "Total number of register cache lookups by result",
		},
		[]string{"kind", "result"},
	)

	// HTTPClientRequestsTotal tracks outbound HTTP requests by method and status class
	HTTPClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status"},
	)

	// DependencyUp reports the last health probe of each dependency (1 up, 0 down)
	DependencyUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "router",
			Subsystem: "health",
			Name:      "dependency_up",
			Help:      "Whether the last health probe of a dependency succeeded",
		},
		[]string{"dependency"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordRoutingOutcome records the disposition of one routing run
func RecordRoutingOutcome(outcome, stage string, durationSeconds float64) {
	RoutingOutcomesTotal.WithLabelValues(outcome, stage).Inc()
	RoutingDuration.Observe(durationSeconds)
}

// RecordStage records the duration of one routing stage
func RecordStage(stage string, durationSeconds float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordMatch records one subscriber evaluation
func RecordMatch(matched bool) {
	result := "rejected"
	if matched {
		result = "matched"
	}
	MatchesTotal.WithLabelValues(result).Inc()
}

// RecordKafkaConsume records a consumed Kafka message
func RecordKafkaConsume(topic, status string) {
	KafkaMessagesConsumed.WithLabelValues(topic, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordDLQMessage records a dead letter queue message
func RecordDLQMessage(reason string) {
	DLQMessagesTotal.WithLabelValues(reason).Inc()
}

// RecordRegisterCache records a register cache hit or miss
func RecordRegisterCache(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	RegisterCacheTotal.WithLabelValues(kind, result).Inc()
}

// ObserveDatabaseQuery records the duration of a query that started at start
func ObserveDatabaseQuery(operation string, start time.Time) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordHTTPClientRequest records an outbound request; status 0 means a transport error
func RecordHTTPClientRequest(method string, status int) {
	label := "error"
	if status > 0 {
		label = fmt.Sprintf("%dxx", status/100)
	}
	HTTPClientRequestsTotal.WithLabelValues(method, label).Inc()
}

// RecordDependencyCheck records the result of a dependency health probe
func RecordDependencyCheck(dependency string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	DependencyUp.WithLabelValues(dependency).Set(v)
}
