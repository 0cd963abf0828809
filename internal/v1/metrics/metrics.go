package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the realtime game backend.
//
// Naming convention: namespace_subsystem_name
// - namespace: ludo (application-level grouping)
// - subsystem: websocket, room, game, store (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ludo",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms with at least one subscribed connection
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ludo",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// MessagesProcessed tracks the total number of WebSocket messages processed
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludo",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total WebSocket messages processed",
	}, []string{"message_type", "status"})

	// MessageProcessingDuration tracks the time spent dispatching WebSocket messages
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ludo",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"message_type"})

	// AuthFailures tracks token verification failures by reason
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludo",
		Subsystem: "websocket",
		Name:      "auth_failures_total",
		Help:      "Total token verification failures",
	}, []string{"reason"})

	// GameActions tracks processed game engine actions by type and outcome
	GameActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludo",
		Subsystem: "game",
		Name:      "actions_total",
		Help:      "Total game actions processed",
	}, []string{"action_type", "status"})

	// RateLimitExceeded tracks rejected requests or frames per limit type
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludo",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests or frames rejected by rate limits",
	}, []string{"scope", "limit_type"})

	// RateLimitRequests tracks requests that passed a rate limit check
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludo",
		Subsystem: "websocket",
		Name:      "rate_limit_requests_total",
		Help:      "Total requests checked against rate limits",
	}, []string{"scope"})

	// RedisOperationsTotal tracks cache operations by name and outcome
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludo",
		Subsystem: "cache",
		Name:      "redis_operations_total",
		Help:      "Total Redis cache operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks cache operation latency
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ludo",
		Subsystem: "cache",
		Name:      "redis_operation_seconds",
		Help:      "Redis cache operation latency",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"operation"})

	// CircuitBreakerState reflects breaker state per upstream (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ludo",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per upstream (0=closed, 1=open, 2=half-open)",
	}, []string{"upstream"})

	// CircuitBreakerFailures counts calls rejected by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludo",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total calls rejected by an open circuit breaker",
	}, []string{"upstream"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
