package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// adminActorRequest is the common actor identity block on admin POST bodies.
type adminActorRequest struct {
	ActorPlayerId string `json:"actorPlayerId"`
	ActorEmail    string `json:"actorEmail,omitempty"`
}

// adminActor resolves the acting admin from the body, falling back to the
// X-Actor-Id / X-Actor-Email headers for bodyless requests.
func adminActor(c *gin.Context, body *adminActorRequest) (types.PlayerIdType, string) {
	if body != nil && body.ActorPlayerId != "" {
		return types.PlayerIdType(body.ActorPlayerId), body.ActorEmail
	}
	return types.PlayerIdType(c.GetHeader("X-Actor-Id")), c.GetHeader("X-Actor-Email")
}

func (h *handlers) upsertRole(c *gin.Context) {
	var req struct {
		adminActorRequest
		Role string `json:"role,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, types.ReasonInvalidPayload)
		return
	}
	actor, email := adminActor(c, &req.adminActorRequest)
	render(c, h.admin.UpsertRole(c.Request.Context(), actor, email,
		types.PlayerIdType(c.Param("uid")), req.Role))
}

func (h *handlers) adminExpireSession(c *gin.Context) {
	var req adminActorRequest
	_ = c.ShouldBindJSON(&req)
	actor, email := adminActor(c, &req)
	render(c, h.admin.ExpireSession(c.Request.Context(), actor, email,
		types.SessionIdType(c.Param("id"))))
}

func (h *handlers) adminRemoveParticipant(c *gin.Context) {
	var req adminActorRequest
	_ = c.ShouldBindJSON(&req)
	actor, email := adminActor(c, &req)
	render(c, h.admin.RemoveParticipant(c.Request.Context(), actor, email,
		types.SessionIdType(c.Param("id")), types.PlayerIdType(c.Param("pid"))))
}

func (h *handlers) adminClearConductPlayer(c *gin.Context) {
	var req adminActorRequest
	_ = c.ShouldBindJSON(&req)
	actor, email := adminActor(c, &req)
	render(c, h.admin.ClearSessionConductPlayer(c.Request.Context(), actor, email,
		types.SessionIdType(c.Param("id")), types.PlayerIdType(c.Param("pid"))))
}

func (h *handlers) adminClearConductState(c *gin.Context) {
	var req adminActorRequest
	_ = c.ShouldBindJSON(&req)
	actor, email := adminActor(c, &req)
	render(c, h.admin.ClearSessionConductState(c.Request.Context(), actor, email,
		types.SessionIdType(c.Param("id"))))
}

func (h *handlers) adminListPlayerAudit(c *gin.Context) {
	actor, email := adminActor(c, nil)
	limit, _ := strconv.Atoi(c.Query("limit"))
	render(c, h.admin.ListPlayerAuditLogs(actor, email,
		types.PlayerIdType(c.Param("pid")), limit))
}

func (h *handlers) adminListAudit(c *gin.Context) {
	actor, email := adminActor(c, nil)
	limit, _ := strconv.Atoi(c.Query("limit"))
	render(c, h.admin.ListAuditLogs(actor, email, limit))
}
