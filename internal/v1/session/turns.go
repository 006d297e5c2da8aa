package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/game"
	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// HandleTurnAction runs one turn action through the engine under the writer,
// broadcasts the resulting envelopes and persists when the engine asks for
// it. The returned result carries the rejection reason for error frames.
func (s *Service) HandleTurnAction(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, msg *wire.TurnActionMessage) game.ActionResult {
	now := s.world.NowMs()

	var (
		result   game.ActionResult
		snapshot *types.Session
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession || !session.IsAlive(now) {
			result = game.ActionResult{Code: types.ReasonTurnUnavailable, Reason: types.ReasonSessionExpired}
			return nil
		}
		result = game.ProcessTurnAction(session, playerId, msg, now)
		if result.Ok && result.ShouldBroadcastState {
			snapshot = session.Clone()
		}
		return nil
	})

	status := "rejected"
	if result.Ok {
		status = "ok"
	}
	metrics.TurnActions.WithLabelValues(msg.Action, status).Inc()

	if !result.Ok {
		return result
	}

	if result.Message != nil {
		s.relay.BroadcastToSession(sessionId, result.Message)
	}
	if snapshot != nil {
		s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	}
	if result.ShouldPersist {
		s.world.PersistStore(ctx)
	}
	if result.WinnerResolved {
		logging.Info(ctx, "round won",
			zap.String("session_id", string(sessionId)),
			zap.String("player_id", string(playerId)))
	}
	return result
}

// HandleTurnEnd formally ends the caller's turn and hands off to the next
// participant. Returns the rejection reason, empty on success.
func (s *Service) HandleTurnEnd(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType) string {
	now := s.world.NowMs()

	var (
		turnEnd   *wire.TurnEndBroadcast
		turnStart *wire.TurnStartMessage
		reason    string
		snapshot  *types.Session
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession || !session.IsAlive(now) {
			reason = types.ReasonSessionExpired
			return nil
		}
		turnEnd, turnStart, reason = game.AdvanceSessionTurn(session, playerId, game.TurnAdvanceSourcePlayer, now)
		if reason == "" {
			session.LastActivityAt = now
			snapshot = session.Clone()
		}
		return nil
	})
	if reason != "" {
		return reason
	}

	if turnEnd != nil {
		s.relay.BroadcastToSession(sessionId, turnEnd)
	}
	if turnStart != nil {
		s.relay.BroadcastToSession(sessionId, turnStart)
	}
	s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	s.world.PersistStore(ctx)
	return ""
}

// AutoAdvanceTurn is the timeout path: the server forces the active player's
// turn to end and announces turn_auto_advanced before the handoff envelopes.
func (s *Service) AutoAdvanceTurn(ctx context.Context, sessionId types.SessionIdType) {
	now := s.world.NowMs()

	var (
		timedOut  types.PlayerIdType
		turnEnd   *wire.TurnEndBroadcast
		turnStart *wire.TurnStartMessage
		snapshot  *types.Session
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession || session.TurnState == nil {
			return nil
		}
		ts := session.TurnState
		if ts.ActiveTurnPlayerId == "" || ts.TurnExpiresAt == 0 || now <= ts.TurnExpiresAt {
			return nil
		}
		p, okP := session.Participants[ts.ActiveTurnPlayerId]
		if !okP {
			game.EnsureSessionTurnState(session, now)
			return nil
		}

		timedOut = ts.ActiveTurnPlayerId
		p.TurnTimeoutCount++
		p.TurnTimeoutRound = ts.Round

		var reason string
		turnEnd, turnStart, reason = game.AdvanceSessionTurn(session, timedOut, game.TurnAdvanceSourceServer, now)
		if reason != "" {
			timedOut = ""
			return nil
		}
		session.LastActivityAt = now
		snapshot = session.Clone()
		return nil
	})
	if timedOut == "" {
		return
	}

	metrics.TurnAutoAdvances.Inc()
	s.relay.BroadcastToSession(sessionId, &wire.TurnAutoAdvanced{
		Type:     wire.TypeTurnAutoAdvanced,
		PlayerId: string(timedOut),
		Source:   game.TurnAdvanceSourceServer,
	})
	if turnEnd != nil {
		s.relay.BroadcastToSession(sessionId, turnEnd)
	}
	if turnStart != nil {
		s.relay.BroadcastToSession(sessionId, turnStart)
	}
	s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	s.world.PersistStore(ctx)
}

// RunBotTurn executes a full bot pass when the active participant is a bot
// waiting to roll.
func (s *Service) RunBotTurn(ctx context.Context, sessionId types.SessionIdType) bool {
	if s.bots == nil {
		return false
	}
	now := s.world.NowMs()

	var (
		result   game.BotTurnResult
		snapshot *types.Session
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession || session.TurnState == nil {
			return nil
		}
		ts := session.TurnState
		active := ts.ActiveTurnPlayerId
		if active == "" || ts.Phase != types.PhaseAwaitRoll {
			return nil
		}
		p, okP := session.Participants[active]
		if !okP || !p.IsBot {
			return nil
		}
		result = game.ExecuteBotTurn(session, active, s.bots, now)
		if len(result.Messages) > 0 {
			session.LastActivityAt = now
			snapshot = session.Clone()
		}
		return nil
	})
	if len(result.Messages) == 0 {
		return false
	}

	for _, m := range result.Messages {
		s.relay.BroadcastToSession(sessionId, m)
	}
	s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	s.world.PersistStore(ctx)
	return true
}
