// Package httpapi wires the control-plane and admin endpoints onto gin.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tumbledice/backend/go/internal/v1/admin"
	"github.com/tumbledice/backend/go/internal/v1/health"
	"github.com/tumbledice/backend/go/internal/v1/middleware"
	"github.com/tumbledice/backend/go/internal/v1/ratelimit"
	"github.com/tumbledice/backend/go/internal/v1/session"
	"github.com/tumbledice/backend/go/internal/v1/socket"
)

// Deps carries everything the router needs. Limiter and Health may be nil in
// tests.
type Deps struct {
	Sessions *session.Service
	Admin    *admin.Service
	Hub      *socket.Hub
	Limiter  *ratelimit.RateLimiter
	Health   *health.Handler

	AllowedOrigins string
}

// NewRouter builds the gin engine with all routes attached.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(deps.AllowedOrigins)
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		middleware.HeaderXCorrelationID, "X-Player-Id", "X-Actor-Id", "X-Actor-Email")
	router.Use(cors.New(corsConfig))

	h := &handlers{sessions: deps.Sessions, admin: deps.Admin}

	roomsLimit := passthrough()
	actionsLimit := passthrough()
	globalLimit := passthrough()
	if deps.Limiter != nil {
		roomsLimit = deps.Limiter.MiddlewareForEndpoint("rooms")
		actionsLimit = deps.Limiter.MiddlewareForEndpoint("actions")
		globalLimit = deps.Limiter.GlobalMiddleware()
	}

	router.GET("/rooms", roomsLimit, h.listRooms)

	sessions := router.Group("/sessions", globalLimit)
	{
		sessions.POST("", roomsLimit, h.createSession)
		sessions.POST("/:id/join", roomsLimit, h.joinSession)
		sessions.POST("/:id/leave", actionsLimit, h.leaveSession)
		sessions.POST("/:id/heartbeat", actionsLimit, h.heartbeat)
		sessions.POST("/:id/participants/:pid/state", actionsLimit, h.setParticipantState)
		sessions.POST("/:id/moderate", actionsLimit, h.moderate)
		sessions.POST("/:id/demo-controls", actionsLimit, h.demoControls)
		sessions.POST("/:id/queue-next", actionsLimit, h.queueNext)
		sessions.POST("/:id/refresh-auth", actionsLimit, h.refreshAuth)
	}

	adminGroup := router.Group("/admin", globalLimit)
	{
		adminGroup.POST("/roles/:uid", h.upsertRole)
		adminGroup.POST("/sessions/:id/expire", h.adminExpireSession)
		adminGroup.POST("/sessions/:id/participants/:pid/remove", h.adminRemoveParticipant)
		adminGroup.POST("/sessions/:id/conduct/players/:pid/clear", h.adminClearConductPlayer)
		adminGroup.POST("/sessions/:id/conduct/clear", h.adminClearConductState)
		adminGroup.GET("/audit/players/:pid", h.adminListPlayerAudit)
		adminGroup.GET("/audit", h.adminListAudit)
	}

	if deps.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			if deps.Limiter != nil && !deps.Limiter.CheckWebSocket(c) {
				return
			}
			if deps.Limiter != nil {
				if pid := c.Query("playerId"); pid != "" {
					if err := deps.Limiter.CheckWebSocketPlayer(c.Request.Context(), pid); err != nil {
						c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections for this player"})
						return
					}
				}
			}
			deps.Hub.ServeHTTP(c.Writer, c.Request)
		})
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Health != nil {
		router.GET("/health/live", deps.Health.Liveness)
		router.GET("/health/ready", deps.Health.Readiness)
	}

	return router
}

func passthrough() gin.HandlerFunc {
	return func(c *gin.Context) { c.Next() }
}

func allowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			origins = append(origins, part)
		}
	}
	return origins
}
