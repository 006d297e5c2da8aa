package session

import (
	"context"

	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// SweepIdleSessions expires every session whose TTL elapsed. Returns the ids
// it expired.
func (s *Service) SweepIdleSessions(ctx context.Context) []types.SessionIdType {
	now := s.world.NowMs()

	var stale []types.SessionIdType
	s.world.View(func(data *types.StoreData) {
		for id, session := range data.Sessions {
			if !session.IsAlive(now) {
				stale = append(stale, id)
			}
		}
	})
	for _, id := range stale {
		s.ExpireSession(ctx, id, "session_idle_expired")
	}
	return stale
}

// SweepStaleHeartbeats removes human participants whose last heartbeat is
// older than staleAfterMs. Socket close does not zero the heartbeat, so a
// clean reconnect window survives; this sweep is the actual eviction.
func (s *Service) SweepStaleHeartbeats(ctx context.Context, staleAfterMs int64) int {
	now := s.world.NowMs()

	type member struct {
		sessionId types.SessionIdType
		playerId  types.PlayerIdType
	}
	var stale []member
	s.world.View(func(data *types.StoreData) {
		for sid, session := range data.Sessions {
			for pid, p := range session.Participants {
				if !p.IsBot && p.LastHeartbeatAt > 0 && now-p.LastHeartbeatAt > staleAfterMs {
					stale = append(stale, member{sid, pid})
				}
			}
		}
	})
	for _, m := range stale {
		s.RemoveParticipantFromSession(ctx, m.sessionId, m.playerId, RemoveOptions{
			Source:       RemoveSourceHeartbeatSweep,
			SocketReason: "heartbeat_timeout",
		})
	}
	return len(stale)
}

// CollectTimeoutWarnings finds sessions inside the warning window and marks
// the warning sent. warningWindowMs is measured back from turn expiry.
func (s *Service) CollectTimeoutWarnings(warningWindowMs int64) []*wire.TurnTimeoutWarning {
	now := s.world.NowMs()

	type pending struct {
		sessionId types.SessionIdType
		warning   *wire.TurnTimeoutWarning
	}
	var warnings []pending
	_ = s.world.Update(func(data *types.StoreData) error {
		for sid, session := range data.Sessions {
			ts := session.TurnState
			if ts == nil || ts.ActiveTurnPlayerId == "" || ts.TurnExpiresAt == 0 {
				continue
			}
			if now < ts.TurnExpiresAt-warningWindowMs || now > ts.TurnExpiresAt {
				continue
			}
			p, okP := session.Participants[ts.ActiveTurnPlayerId]
			if !okP || p.TurnTimeoutRound == ts.Round {
				continue
			}
			// TurnTimeoutRound doubles as the warned-this-round marker.
			p.TurnTimeoutRound = ts.Round
			warnings = append(warnings, pending{sid, &wire.TurnTimeoutWarning{
				Type:          wire.TypeTurnTimeoutWarning,
				PlayerId:      string(ts.ActiveTurnPlayerId),
				TurnExpiresAt: ts.TurnExpiresAt,
			}})
		}
		return nil
	})

	out := make([]*wire.TurnTimeoutWarning, 0, len(warnings))
	for _, w := range warnings {
		s.relay.BroadcastToSession(w.sessionId, w.warning)
		out = append(out, w.warning)
	}
	return out
}

// ExpiredTurnSessions lists sessions whose active turn is past expiry.
func (s *Service) ExpiredTurnSessions() []types.SessionIdType {
	now := s.world.NowMs()

	var expired []types.SessionIdType
	s.world.View(func(data *types.StoreData) {
		for id, session := range data.Sessions {
			ts := session.TurnState
			if ts != nil && ts.ActiveTurnPlayerId != "" && ts.TurnExpiresAt > 0 && now > ts.TurnExpiresAt {
				expired = append(expired, id)
			}
		}
	})
	return expired
}

// BotTurnSessions lists sessions whose active participant is a bot in
// await_roll, split by demo speed for the scheduler's pacing.
func (s *Service) BotTurnSessions() (normal, fast []types.SessionIdType) {
	s.world.View(func(data *types.StoreData) {
		for id, session := range data.Sessions {
			ts := session.TurnState
			if ts == nil || ts.ActiveTurnPlayerId == "" || ts.Phase != types.PhaseAwaitRoll || ts.TurnExpiresAt == 0 {
				continue
			}
			p, okP := session.Participants[ts.ActiveTurnPlayerId]
			if !okP || !p.IsBot {
				continue
			}
			if session.DemoMode && !session.DemoAutoRun {
				continue
			}
			if session.DemoSpeedMode {
				fast = append(fast, id)
			} else {
				normal = append(normal, id)
			}
		}
	})
	return normal, fast
}
