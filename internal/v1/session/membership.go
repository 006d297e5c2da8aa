package session

import (
	"context"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/game"
	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// Removal sources recorded on leave/kick/ban paths.
const (
	RemoveSourceLeave          = "leave"
	RemoveSourceModerationKick = "moderation_kick"
	RemoveSourceModerationBan  = "moderation_ban"
	RemoveSourceConductAutoBan = "conduct_auto_ban"
	RemoveSourceAdmin          = "admin"
	RemoveSourceHeartbeatSweep = "heartbeat_sweep"
)

// RemoveOptions parameterize participant removal.
type RemoveOptions struct {
	Source       string
	SocketReason string
}

// RemoveParticipantFromSession is the sole deletion path for a participant.
// Each effect is individually recoverable; a missing participant is not an
// error. Returns whether the public-room inventory changed.
func (s *Service) RemoveParticipantFromSession(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, opts RemoveOptions) bool {
	now := s.world.NowMs()

	var (
		found            bool
		expired          bool
		inventoryChanged bool
		turnStart        *wire.TurnStartMessage
		snapshot         *types.Session
	)

	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession {
			return nil
		}
		if _, okP := session.Participants[playerId]; okP {
			found = true
		}

		delete(session.Participants, playerId)
		if session.ChatConduct != nil {
			delete(session.ChatConduct.Players, playerId)
		}

		if session.OwnerPlayerId == playerId {
			ensureSessionOwner(session)
		}

		game.EnsureSessionTurnState(session, now)

		if session.HumanCount() == 0 {
			if session.RoomKind == types.RoomKindPrivate {
				expireSessionLocked(data, session)
				expired = true
			} else {
				s.resetPublicRoomForIdle(session, now)
				snapshot = session.Clone()
			}
		} else {
			if !s.applySingleHumanForfeit(session, now) {
				turnStart = game.BuildTurnStartMessage(session)
			}
			snapshot = session.Clone()
		}

		inventoryChanged = s.reconcilePublicInventory(data, now)
		return nil
	})

	s.relay.CloseSessionPlayerSockets(sessionId, playerId, wire.CloseNormal, opts.SocketReason)

	if !expired && snapshot != nil {
		if turnStart != nil {
			s.relay.BroadcastToSession(sessionId, turnStart)
		}
		s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	}

	if found || expired || inventoryChanged {
		logging.Info(ctx, "participant removed",
			zap.String("session_id", string(sessionId)),
			zap.String("player_id", string(playerId)),
			zap.String("source", opts.Source))
		s.world.PersistStore(ctx)
	}
	return inventoryChanged
}

// ensureSessionOwner promotes the earliest-joined seated non-bot, or clears
// the owner when none qualify.
func ensureSessionOwner(session *types.Session) {
	var candidates []*types.Participant
	for _, p := range session.Participants {
		if !p.IsBot && p.IsSeated {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		session.OwnerPlayerId = ""
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].JoinedAt != candidates[j].JoinedAt {
			return candidates[i].JoinedAt < candidates[j].JoinedAt
		}
		return candidates[i].PlayerId < candidates[j].PlayerId
	})
	session.OwnerPlayerId = candidates[0].PlayerId
}

// applySingleHumanForfeit ends the round in favor of the last human standing
// when every other contender has left mid-game.
func (s *Service) applySingleHumanForfeit(session *types.Session, now int64) bool {
	if session.GameStartedAt == 0 || session.SessionComplete {
		return false
	}
	var lastHuman types.PlayerIdType
	contenders := 0
	for id, p := range session.Participants {
		if !p.IsSeated || p.IsComplete {
			continue
		}
		contenders++
		if !p.IsBot {
			lastHuman = id
		}
	}
	if contenders != 1 || lastHuman == "" {
		return false
	}
	game.CompleteSessionRoundWithWinner(session, lastHuman, now)
	game.EnsureSessionTurnState(session, now)
	return true
}

// resetPublicRoomForIdle returns a public room to a fresh joinable state
// after its last human leaves. Room bans survive the reset.
func (s *Service) resetPublicRoomForIdle(session *types.Session, now int64) {
	for id := range session.Participants {
		delete(session.Participants, id)
	}
	session.ChatConduct = types.NewChatConductState()
	session.TurnState = nil
	session.OwnerPlayerId = ""
	session.SessionComplete = false
	session.CompletedAt = 0
	session.GameStartedAt = 0
	session.NextGameStartsAt = 0
	session.LastActivityAt = now
	session.ExpiresAt = now + s.cfg.IdleTtlMs
	game.EnsureSessionTurnState(session, now)
	metrics.SessionParticipants.WithLabelValues(string(session.SessionId)).Set(0)
}

// expireSessionLocked deletes a session and its owned sub-entities from the
// aggregate. Callers already hold the writer.
func expireSessionLocked(data *types.StoreData, session *types.Session) {
	store.RemoveSessionTokens(data, session.SessionId)
	delete(data.Sessions, session.SessionId)
	metrics.ActiveSessions.Dec()
	metrics.SessionParticipants.DeleteLabelValues(string(session.SessionId))
}

// ExpireSession removes a session entirely, closing every socket with the
// session-expired close code. Returns false for an unknown session, along
// with whether the public inventory changed.
func (s *Service) ExpireSession(ctx context.Context, sessionId types.SessionIdType, reason string) (bool, bool) {
	now := s.world.NowMs()

	var (
		found            bool
		participants     []types.PlayerIdType
		inventoryChanged bool
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession {
			return nil
		}
		found = true
		for id := range session.Participants {
			participants = append(participants, id)
		}
		expireSessionLocked(data, session)
		inventoryChanged = s.reconcilePublicInventory(data, now)
		return nil
	})
	if !found {
		return false, false
	}

	for _, pid := range participants {
		s.relay.CloseSessionPlayerSockets(sessionId, pid, wire.CloseSessionExpired, reason)
	}
	logging.Info(ctx, "session expired",
		zap.String("session_id", string(sessionId)), zap.String("reason", reason))
	s.world.PersistStore(ctx)
	return true, inventoryChanged
}

// reconcilePublicInventory culls dead public rooms: idle-expired sessions and
// empty overflow rooms leave the pool. Runs under the global writer; returns
// whether anything changed.
func (s *Service) reconcilePublicInventory(data *types.StoreData, now int64) bool {
	changed := false
	for _, session := range data.Sessions {
		if !session.IsPublic() {
			continue
		}
		if !session.IsAlive(now) {
			expireSessionLocked(data, session)
			changed = true
			continue
		}
		if session.RoomKind == types.RoomKindPublicOverflow && session.HumanCount() == 0 {
			expireSessionLocked(data, session)
			changed = true
		}
	}
	return changed
}

// Moderate handles owner/admin kick and ban. The requester must be the room
// owner or resolve to an admin role of operator or above, bootstrap
// allowlists included.
func (s *Service) Moderate(ctx context.Context, sessionId types.SessionIdType, requesterId, targetId types.PlayerIdType, action string) Result {
	if sessionId == "" {
		return fail(http.StatusBadRequest, types.ReasonInvalidSessionId)
	}
	if requesterId == "" || targetId == "" {
		return fail(http.StatusBadRequest, types.ReasonInvalidPlayerId)
	}
	if action != "kick" && action != "ban" {
		return fail(http.StatusBadRequest, types.ReasonInvalidAction)
	}
	if requesterId == targetId {
		return fail(http.StatusConflict, types.ReasonCannotModerateSelf)
	}

	now := s.world.NowMs()
	adminModerator := s.hasModerationPrivilege(requesterId)
	var authorized, viaAdmin, sessionFound bool
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession {
			return nil
		}
		sessionFound = true

		if session.OwnerPlayerId == requesterId {
			authorized = true
		} else if adminModerator {
			authorized = true
			viaAdmin = true
		}
		if !authorized {
			return nil
		}

		if action == "ban" {
			session.RoomBans[targetId] = &types.BanRecord{
				PlayerId: targetId,
				BannedBy: requesterId,
				Source:   RemoveSourceModerationBan,
				BannedAt: now,
			}
		}
		return nil
	})

	if !sessionFound {
		return fail(http.StatusNotFound, types.ReasonUnknownSession)
	}
	if !authorized {
		return fail(http.StatusForbidden, types.ReasonNotRoomOwner)
	}

	source := RemoveSourceModerationKick
	if action == "ban" {
		source = RemoveSourceModerationBan
	}
	s.RemoveParticipantFromSession(ctx, sessionId, targetId, RemoveOptions{
		Source:       source,
		SocketReason: source,
	})

	if viaAdmin {
		s.world.AppendGameLog(requesterId, sessionId, types.GameLogTypeAdminAction, map[string]any{
			"action":         "moderate_" + action,
			"targetPlayerId": string(targetId),
		})
		s.world.CompactLogStore()
		s.world.PersistStore(ctx)
	}

	return ok(map[string]any{
		"action":         action,
		"targetPlayerId": string(targetId),
		"session":        s.world.GetSession(sessionId),
	})
}

// hasModerationPrivilege consults the admin plane's resolver when wired,
// otherwise the stored admin role.
func (s *Service) hasModerationPrivilege(requesterId types.PlayerIdType) bool {
	if s.moderationAuthorizer != nil {
		return s.moderationAuthorizer(requesterId)
	}
	var role types.AdminRole
	s.world.View(func(data *types.StoreData) {
		if player, okPlayer := data.Players[requesterId]; okPlayer {
			role = player.AdminRole
		}
	})
	return role == types.AdminRoleOperator || role == types.AdminRoleOwner
}
