package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readaddicts_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "readaddicts_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "readaddicts_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts frames dropped because a client buffer was full.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readaddicts_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// PushEvents counts real-time push attempts by event type and outcome.
	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readaddicts_push_events_total",
		Help: "Real-time push events by type and outcome",
	}, []string{"event_type", "outcome"})

	// MessagesSent counts persisted direct messages.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readaddicts_messages_sent_total",
		Help: "Total number of direct messages persisted",
	})

	// MessagesRead counts messages transitioned to read.
	MessagesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readaddicts_messages_read_total",
		Help: "Total number of messages marked as read",
	})

	// CommentsCreated counts created comments split by top-level vs reply.
	CommentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readaddicts_comments_created_total",
		Help: "Total number of comments created",
	}, []string{"kind"})

	// CommentCascadeSize observes how many rows a comment delete removed.
	CommentCascadeSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "readaddicts_comment_cascade_size",
		Help:    "Number of comments removed per delete, including the root",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	// ReplyTreeNodes observes the size of resolved reply subtrees.
	ReplyTreeNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "readaddicts_reply_tree_nodes",
		Help:    "Number of nodes resolved per reply tree",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
