package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echoroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "echoroom_connections",
			Help: "Open websocket connections",
		},
	)

	RoomSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "echoroom_room_subscriptions",
			Help: "Active (connection, room) subscriptions",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echoroom_broadcast_dropped_total",
			Help: "Events dropped because a subscriber's send buffer was full",
		},
	)

	// Message pipeline
	MessagesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoroom_messages_submitted_total",
			Help: "Message submissions by result",
		},
		[]string{"result"},
	)

	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "echoroom_message_persist_seconds",
			Help:    "Time spent holding a room's write slot",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	RecoveryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoroom_recovery_requests_total",
			Help: "Recovery requests by outcome",
		},
		[]string{"outcome"},
	)

	RecoveredMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echoroom_recovered_messages_total",
			Help: "Messages delivered through recovery batches",
		},
	)

	BacklogCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoroom_backlog_cache_total",
			Help: "Backlog cache lookups by result (hit, miss, error, bypass)",
		},
		[]string{"result"},
	)
)
