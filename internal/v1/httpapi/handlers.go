package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tumbledice/backend/go/internal/v1/admin"
	"github.com/tumbledice/backend/go/internal/v1/session"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

type handlers struct {
	sessions *session.Service
	admin    *admin.Service
}

// render writes a service Result as-is.
func render(c *gin.Context, result session.Result) {
	c.JSON(result.Status, result.Payload)
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}

func (h *handlers) listRooms(c *gin.Context) {
	render(c, h.sessions.ListRooms(c.Request.Context(), c.Query("limit")))
}

func (h *handlers) createSession(c *gin.Context) {
	var req session.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, types.ReasonInvalidPayload)
		return
	}
	render(c, h.sessions.CreateSession(c.Request.Context(), req))
}

func (h *handlers) joinSession(c *gin.Context) {
	var req session.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, types.ReasonInvalidPayload)
		return
	}
	target := session.JoinTarget{SessionId: types.SessionIdType(c.Param("id"))}
	render(c, h.sessions.JoinSessionByTarget(c.Request.Context(), target, req))
}

func (h *handlers) leaveSession(c *gin.Context) {
	var req struct {
		PlayerId string `json:"playerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerId == "" {
		badRequest(c, types.ReasonInvalidPlayerId)
		return
	}
	render(c, h.sessions.LeaveSession(c.Request.Context(),
		types.SessionIdType(c.Param("id")), types.PlayerIdType(req.PlayerId)))
}

func (h *handlers) heartbeat(c *gin.Context) {
	var req struct {
		PlayerId string `json:"playerId"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerId == "" {
		badRequest(c, types.ReasonInvalidPlayerId)
		return
	}
	render(c, h.sessions.Heartbeat(c.Request.Context(),
		types.SessionIdType(c.Param("id")), types.PlayerIdType(req.PlayerId), req.Token))
}

func (h *handlers) setParticipantState(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Action == "" {
		badRequest(c, types.ReasonInvalidAction)
		return
	}
	render(c, h.sessions.SetParticipantState(c.Request.Context(),
		types.SessionIdType(c.Param("id")), types.PlayerIdType(c.Param("pid")), req.Action))
}

func (h *handlers) moderate(c *gin.Context) {
	var req struct {
		RequesterPlayerId string `json:"requesterPlayerId"`
		TargetPlayerId    string `json:"targetPlayerId"`
		Action            string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RequesterPlayerId == "" || req.TargetPlayerId == "" {
		badRequest(c, types.ReasonInvalidPayload)
		return
	}
	render(c, h.sessions.Moderate(c.Request.Context(),
		types.SessionIdType(c.Param("id")),
		types.PlayerIdType(req.RequesterPlayerId), types.PlayerIdType(req.TargetPlayerId), req.Action))
}

func (h *handlers) demoControls(c *gin.Context) {
	var req struct {
		PlayerId string `json:"playerId"`
		Action   string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerId == "" {
		badRequest(c, types.ReasonInvalidPayload)
		return
	}
	render(c, h.sessions.DemoControls(c.Request.Context(),
		types.SessionIdType(c.Param("id")), types.PlayerIdType(req.PlayerId), req.Action))
}

func (h *handlers) queueNext(c *gin.Context) {
	var req struct {
		PlayerId string `json:"playerId"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerId == "" {
		badRequest(c, types.ReasonInvalidPlayerId)
		return
	}
	render(c, h.sessions.QueueParticipantForNextGame(c.Request.Context(),
		types.SessionIdType(c.Param("id")), types.PlayerIdType(req.PlayerId), req.Token))
}

func (h *handlers) refreshAuth(c *gin.Context) {
	var req struct {
		PlayerId     string `json:"playerId"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerId == "" {
		badRequest(c, types.ReasonInvalidPlayerId)
		return
	}
	render(c, h.sessions.RefreshSessionAuth(c.Request.Context(),
		types.SessionIdType(c.Param("id")), types.PlayerIdType(req.PlayerId), req.RefreshToken))
}
