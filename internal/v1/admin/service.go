package admin

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/session"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

// Audit listing bounds.
const (
	auditDefaultLimit   = 60
	auditPlayerLimitCap = 250
	auditGlobalLimitCap = 500
)

// Service is the admin plane. Interventions funnel through the session
// service so removal semantics stay identical to the player paths.
type Service struct {
	world    *store.World
	sessions *session.Service

	bootstrapUids   map[string]bool
	bootstrapEmails map[string]bool
}

// NewService builds the admin plane. Allowlist entries are trimmed; emails
// are matched lowercase.
func NewService(world *store.World, sessions *session.Service, bootstrapUids, bootstrapEmails []string) *Service {
	uids := make(map[string]bool, len(bootstrapUids))
	for _, uid := range bootstrapUids {
		if uid = strings.TrimSpace(uid); uid != "" {
			uids[uid] = true
		}
	}
	emails := make(map[string]bool, len(bootstrapEmails))
	for _, email := range bootstrapEmails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			emails[email] = true
		}
	}
	svc := &Service{world: world, sessions: sessions, bootstrapUids: uids, bootstrapEmails: emails}

	// The moderation path shares this plane's role resolution so bootstrap
	// admins can moderate rooms before any role is stored.
	sessions.SetModerationAuthorizer(func(uid types.PlayerIdType) bool {
		var email string
		world.View(func(data *types.StoreData) {
			if player, okPlayer := data.Players[uid]; okPlayer {
				email = player.Email
			}
		})
		return HasRequiredAdminRole(svc.ResolveRoleForIdentity(uid, email).Role, types.AdminRoleOperator)
	})
	return svc
}

// Result mirrors the control plane's {status, payload} shape.
type Result = session.Result

func adminOk(payload map[string]any) Result {
	return Result{Status: http.StatusOK, Payload: payload}
}

func adminFail(status int, reason string) Result {
	return Result{Status: status, Payload: map[string]any{"error": reason}}
}

// requireRole resolves the actor and enforces the minimum role.
func (s *Service) requireRole(actor types.PlayerIdType, actorEmail string, required types.AdminRole) (ResolvedRole, string) {
	if actor == "" {
		return ResolvedRole{}, types.ReasonInvalidUid
	}
	resolved := s.ResolveRoleForIdentity(actor, actorEmail)
	if resolved.Role == "" {
		return resolved, types.ReasonMissingAdminRole
	}
	if !HasRequiredAdminRole(resolved.Role, required) {
		return resolved, types.ReasonUnauthorized
	}
	return resolved, ""
}

// audit writes an admin_action log entry, compacts the log store and
// persists.
func (s *Service) audit(ctx context.Context, actor types.PlayerIdType, sessionId types.SessionIdType, action string, details map[string]any) {
	payload := map[string]any{"action": action}
	for k, v := range details {
		payload[k] = v
	}
	s.world.AppendGameLog(actor, sessionId, types.GameLogTypeAdminAction, payload)
	s.world.CompactLogStore()
	s.world.PersistStore(ctx)
}

// UpsertRole assigns or clears a player's admin role. Bootstrap owners are
// locked to owner.
func (s *Service) UpsertRole(ctx context.Context, actor types.PlayerIdType, actorEmail string, targetUid types.PlayerIdType, rawRole string) Result {
	if _, reason := s.requireRole(actor, actorEmail, types.AdminRoleOwner); reason != "" {
		return adminFail(http.StatusForbidden, reason)
	}
	if targetUid == "" {
		return adminFail(http.StatusBadRequest, types.ReasonInvalidUid)
	}

	var role types.AdminRole
	if strings.TrimSpace(rawRole) != "" {
		role = NormalizeAdminRole(rawRole)
		if role == "" {
			return adminFail(http.StatusBadRequest, types.ReasonInvalidAdminRole)
		}
	}
	if s.bootstrapUids[string(targetUid)] && role != types.AdminRoleOwner {
		return adminFail(http.StatusConflict, types.ReasonBootstrapOwnerLocked)
	}

	now := s.world.NowMs()
	var record *types.Player
	_ = s.world.Update(func(data *types.StoreData) error {
		player, okPlayer := data.Players[targetUid]
		if !okPlayer {
			player = &types.Player{Uid: targetUid}
			data.Players[targetUid] = player
		}
		player.AdminRole = role
		player.AdminRoleUpdatedAt = now
		player.AdminRoleUpdatedBy = actor
		player.UpdatedAt = now
		cp := *player
		record = &cp
		return nil
	})

	s.audit(ctx, actor, "", "upsert_role", map[string]any{
		"targetUid": string(targetUid),
		"role":      string(role),
	})
	logging.Info(ctx, "admin role upserted",
		zap.String("actor", string(actor)), zap.String("target", string(targetUid)),
		zap.String("role", string(role)))
	return adminOk(map[string]any{"player": record})
}

// ExpireSession force-expires a session.
func (s *Service) ExpireSession(ctx context.Context, actor types.PlayerIdType, actorEmail string, sessionId types.SessionIdType) Result {
	if _, reason := s.requireRole(actor, actorEmail, types.AdminRoleOperator); reason != "" {
		return adminFail(http.StatusForbidden, reason)
	}
	if sessionId == "" {
		return adminFail(http.StatusBadRequest, types.ReasonInvalidSessionId)
	}

	found, inventoryChanged := s.sessions.ExpireSession(ctx, sessionId, "admin_expire")
	if !found {
		return adminFail(http.StatusNotFound, types.ReasonUnknownSession)
	}
	s.audit(ctx, actor, sessionId, "expire_session", nil)
	return adminOk(map[string]any{
		"sessionId":            string(sessionId),
		"roomInventoryChanged": inventoryChanged,
	})
}

// RemoveParticipant force-removes a participant from a session.
func (s *Service) RemoveParticipant(ctx context.Context, actor types.PlayerIdType, actorEmail string, sessionId types.SessionIdType, targetId types.PlayerIdType) Result {
	if _, reason := s.requireRole(actor, actorEmail, types.AdminRoleOperator); reason != "" {
		return adminFail(http.StatusForbidden, reason)
	}
	if sessionId == "" {
		return adminFail(http.StatusBadRequest, types.ReasonInvalidSessionId)
	}
	if targetId == "" {
		return adminFail(http.StatusBadRequest, types.ReasonInvalidPlayerId)
	}
	if s.world.GetSession(sessionId) == nil {
		return adminFail(http.StatusNotFound, types.ReasonUnknownSession)
	}

	inventoryChanged := s.sessions.RemoveParticipantFromSession(ctx, sessionId, targetId, session.RemoveOptions{
		Source:       session.RemoveSourceAdmin,
		SocketReason: "removed_by_admin",
	})
	s.audit(ctx, actor, sessionId, "remove_participant", map[string]any{
		"targetPlayerId": string(targetId),
	})
	return adminOk(map[string]any{
		"sessionId":            string(sessionId),
		"targetPlayerId":       string(targetId),
		"roomInventoryChanged": inventoryChanged,
	})
}

// ClearSessionConductPlayer wipes one player's conduct record in a session.
func (s *Service) ClearSessionConductPlayer(ctx context.Context, actor types.PlayerIdType, actorEmail string, sessionId types.SessionIdType, targetId types.PlayerIdType) Result {
	if _, reason := s.requireRole(actor, actorEmail, types.AdminRoleOperator); reason != "" {
		return adminFail(http.StatusForbidden, reason)
	}

	found := false
	_ = s.world.Update(func(data *types.StoreData) error {
		live, okSession := data.Sessions[sessionId]
		if !okSession || live.ChatConduct == nil {
			return nil
		}
		if _, okPlayer := live.ChatConduct.Players[targetId]; okPlayer {
			delete(live.ChatConduct.Players, targetId)
			found = true
		}
		return nil
	})
	if !found {
		return adminFail(http.StatusNotFound, types.ReasonUnknownPlayer)
	}

	s.audit(ctx, actor, sessionId, "clear_conduct_player", map[string]any{
		"targetPlayerId": string(targetId),
	})
	return adminOk(map[string]any{"cleared": true, "targetPlayerId": string(targetId)})
}

// ClearSessionConductState wipes the whole session's conduct state.
func (s *Service) ClearSessionConductState(ctx context.Context, actor types.PlayerIdType, actorEmail string, sessionId types.SessionIdType) Result {
	if _, reason := s.requireRole(actor, actorEmail, types.AdminRoleOperator); reason != "" {
		return adminFail(http.StatusForbidden, reason)
	}

	found := false
	_ = s.world.Update(func(data *types.StoreData) error {
		if live, okSession := data.Sessions[sessionId]; okSession {
			live.ChatConduct = types.NewChatConductState()
			found = true
		}
		return nil
	})
	if !found {
		return adminFail(http.StatusNotFound, types.ReasonUnknownSession)
	}

	s.audit(ctx, actor, sessionId, "clear_conduct_state", nil)
	return adminOk(map[string]any{"cleared": true, "sessionId": string(sessionId)})
}

// ListPlayerAuditLogs returns a player's audit entries, newest first,
// bounded at 250.
func (s *Service) ListPlayerAuditLogs(actor types.PlayerIdType, actorEmail string, targetId types.PlayerIdType, rawLimit int) Result {
	if _, reason := s.requireRole(actor, actorEmail, types.AdminRoleViewer); reason != "" {
		return adminFail(http.StatusForbidden, reason)
	}
	limit := clampAuditLimit(rawLimit, auditPlayerLimitCap)
	logs := s.world.ListGameLogs(store.AuditFilter{PlayerId: targetId, Type: types.GameLogTypeAdminAction}, limit)
	return adminOk(map[string]any{"logs": logs, "count": len(logs)})
}

// ListAuditLogs returns global audit entries, newest first, bounded at 500.
func (s *Service) ListAuditLogs(actor types.PlayerIdType, actorEmail string, rawLimit int) Result {
	if _, reason := s.requireRole(actor, actorEmail, types.AdminRoleViewer); reason != "" {
		return adminFail(http.StatusForbidden, reason)
	}
	limit := clampAuditLimit(rawLimit, auditGlobalLimitCap)
	logs := s.world.ListGameLogs(store.AuditFilter{Type: types.GameLogTypeAdminAction}, limit)
	return adminOk(map[string]any{"logs": logs, "count": len(logs)})
}

func clampAuditLimit(raw, bound int) int {
	if raw <= 0 {
		return auditDefaultLimit
	}
	if raw > bound {
		return bound
	}
	return raw
}
