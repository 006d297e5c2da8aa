// Package conduct implements the default chat-conduct filter pipeline:
// sender preflight, inbound content rules with strike accrual, and direct
// delivery block checks. The rules live here; how verdicts are applied is the
// orchestrator's business.
package conduct

import (
	"strings"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

const (
	maxMessageLength = 500
	strikeWindowMs   = 60_000
	muteAfterStrikes = 3
	muteDurationMs   = 120_000
	autoBanStrikes   = 6
)

// defaultDeniedTerms is the stock content denylist. Deployments extend it
// through NewFilter.
var defaultDeniedTerms = []string{
	"spamspamspam",
}

// Filter is the default ConductFilterRegistry.
type Filter struct {
	deniedTerms []string
}

// NewFilter builds a filter with the stock denylist plus any extra terms.
func NewFilter(extraTerms ...string) *Filter {
	terms := append([]string(nil), defaultDeniedTerms...)
	for _, t := range extraTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &Filter{deniedTerms: terms}
}

// Preflight rejects senders under an active mute. It never mutates state.
func (f *Filter) Preflight(session *types.Session, sender types.PlayerIdType, now int64) types.ConductVerdict {
	state := conductStateFor(session, sender, false)
	if state != nil && state.MutedUntil > now {
		v := types.Block(types.ReasonRoomChannelSenderRestricted)
		v.MutedUntil = state.MutedUntil
		return v
	}
	return types.Allow()
}

// Inbound applies content rules. Violations accrue strikes on the session's
// conduct state; enough strikes inside the window mutes the sender, and
// sustained abuse flags an auto-ban.
func (f *Filter) Inbound(session *types.Session, sender types.PlayerIdType, content string, now int64) types.ConductVerdict {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || len(content) > maxMessageLength {
		return f.recordViolation(session, sender, types.ReasonRoomChannelInvalidMessage, now)
	}
	lowered := strings.ToLower(trimmed)
	for _, term := range f.deniedTerms {
		if strings.Contains(lowered, term) {
			return f.recordViolation(session, sender, types.ReasonRoomChannelMessageBlocked, now)
		}
	}
	return types.Allow()
}

// Direct rejects targeted delivery when either side blocks the other.
func (f *Filter) Direct(session *types.Session, sender, target types.PlayerIdType) types.ConductVerdict {
	sp, sok := session.Participants[sender]
	tp, tok := session.Participants[target]
	if !sok || !tok {
		return types.Block(types.ReasonUnknownPlayer)
	}
	if sp.IsBlocking(target) || tp.IsBlocking(sender) {
		return types.Block(types.ReasonInteractionBlocked)
	}
	return types.Allow()
}

func (f *Filter) recordViolation(session *types.Session, sender types.PlayerIdType, reason string, now int64) types.ConductVerdict {
	state := conductStateFor(session, sender, true)

	state.StrikeEvents = append(state.StrikeEvents, now)
	state.TotalStrikes++
	state.LastViolationAt = now

	recent := 0
	for _, ts := range state.StrikeEvents {
		if ts > now-strikeWindowMs {
			recent++
		}
	}
	if recent >= muteAfterStrikes {
		state.MutedUntil = now + muteDurationMs
	}

	verdict := types.Block(reason)
	verdict.StateChanged = true
	verdict.MutedUntil = state.MutedUntil
	verdict.ShouldAutoBan = state.TotalStrikes >= autoBanStrikes
	return verdict
}

func conductStateFor(session *types.Session, playerId types.PlayerIdType, create bool) *types.ConductPlayerState {
	if session.ChatConduct == nil {
		if !create {
			return nil
		}
		session.ChatConduct = types.NewChatConductState()
	}
	state, ok := session.ChatConduct.Players[playerId]
	if !ok {
		if !create {
			return nil
		}
		state = &types.ConductPlayerState{}
		session.ChatConduct.Players[playerId] = state
	}
	return state
}
