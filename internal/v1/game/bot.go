package game

import (
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// BotTurnResult collects everything a completed bot pass produced, in
// broadcast order.
type BotTurnResult struct {
	Messages       []any
	WinnerResolved bool
	Advanced       bool
}

// ExecuteBotTurn runs one full bot pass for the active bot participant:
// roll, then select and score the engine's pick, then advance the turn. The
// bot-loop scheduler invokes this whenever the active participant is a bot
// sitting in await_roll.
func ExecuteBotTurn(session *types.Session, playerId types.PlayerIdType, engine types.BotEngine, now int64) BotTurnResult {
	var result BotTurnResult

	ts := session.TurnState
	if ts == nil || ts.ActiveTurnPlayerId != playerId || ts.Phase != types.PhaseAwaitRoll {
		return result
	}
	p, ok := session.Participants[playerId]
	if !ok || !p.IsBot {
		return result
	}

	remaining := p.RemainingDice
	if remaining == 0 {
		remaining = session.GameConfig.DiceCount
	}
	rollIndex := 0
	if ts.LastRollSnapshot != nil {
		rollIndex = ts.LastRollSnapshot.RollIndex + 1
	}
	roll := engine.BuildTurnRollPayload(session.GameConfig, remaining, rollIndex)

	rollOutcome := ProcessTurnAction(session, playerId, &wire.TurnActionMessage{
		Type:   wire.TypeTurnAction,
		Action: wire.ActionRoll,
		Roll:   &roll,
	}, now)
	if !rollOutcome.Ok {
		return result
	}
	result.Messages = append(result.Messages, rollOutcome.Message)

	score := engine.BuildTurnScoreSummary(ts.LastRollSnapshot, p.RemainingDice)
	score.RollServerId = ts.LastRollSnapshot.ServerRollId
	if points, reason := SelectionPoints(ts.LastRollSnapshot, score.SelectedDiceIds); reason == "" {
		score.Points = points
	}

	scoreOutcome := ProcessTurnAction(session, playerId, &wire.TurnActionMessage{
		Type:   wire.TypeTurnAction,
		Action: wire.ActionScore,
		Score:  &score,
	}, now)
	if !scoreOutcome.Ok {
		return result
	}
	result.Messages = append(result.Messages, scoreOutcome.Message)
	result.WinnerResolved = scoreOutcome.WinnerResolved

	turnEnd, turnStart, reason := AdvanceSessionTurn(session, playerId, TurnAdvanceSourcePlayer, now)
	if reason != "" {
		return result
	}
	result.Advanced = true
	if turnEnd != nil {
		result.Messages = append(result.Messages, turnEnd)
	}
	if turnStart != nil {
		result.Messages = append(result.Messages, turnStart)
	}
	return result
}
