package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the dice-game session core.
//
// Naming convention: namespace_subsystem_name
// - namespace: dice_game (application-level grouping)
// - subsystem: websocket, session, turn, store (feature-level grouping)
// - name: specific metric (connections_active, actions_total, etc.)

var (
	// ActiveWebSocketConnections tracks live registered sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dice_game",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveSessions tracks live (non-expired) sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dice_game",
		Subsystem: "session",
		Name:      "sessions_active",
		Help:      "Current number of active game sessions",
	})

	// SessionParticipants tracks participant counts per session.
	SessionParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dice_game",
		Subsystem: "session",
		Name:      "participants_count",
		Help:      "Number of participants in each session",
	}, []string{"session_id"})

	// TurnActions counts validated turn actions by action and status.
	TurnActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "turn",
		Name:      "actions_total",
		Help:      "Total turn actions processed",
	}, []string{"action", "status"})

	// TurnAutoAdvances counts server-forced turn advances.
	TurnAutoAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "turn",
		Name:      "auto_advances_total",
		Help:      "Total turns advanced by the timeout loop",
	})

	// RehydrateAttempts counts backoff retries by profile.
	RehydrateAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "store",
		Name:      "rehydrate_attempts_total",
		Help:      "Total store rehydration retry attempts",
	}, []string{"profile"})

	// PersistFailures counts persistence saves that failed after a mutation.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "store",
		Name:      "persist_failures_total",
		Help:      "Total failed persistence saves",
	})

	// WebsocketEvents counts inbound message routing by type and status.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// CircuitBreakerState exposes breaker state per backend (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dice_game",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per persistence backend",
	}, []string{"backend"})

	// CircuitBreakerFailures counts calls dropped by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total calls rejected by an open circuit breaker",
	}, []string{"backend"})

	// RateLimitRequests counts requests that passed the limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total rate-limited requests allowed",
	}, []string{"path"})

	// RateLimitExceeded counts rejected requests by path and limit type.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_game",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"path", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
