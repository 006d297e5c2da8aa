package game

import (
	"github.com/google/uuid"

	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// ActionResult is the full outcome of a turn action. On rejection Ok is
// false and Sync tells the caller whether to resend the turn-sync payload.
type ActionResult struct {
	Ok                   bool
	Code                 string
	Reason               string
	Action               string
	Message              *wire.TurnActionBroadcast
	WinnerResolved       bool
	ShouldBroadcastState bool
	ShouldPersist        bool
	ActionTimestamp      int64
	Sync                 bool
}

func rejectAction(action, code, reason string, sync bool) ActionResult {
	return ActionResult{Code: code, Reason: reason, Action: action, Sync: sync}
}

// ProcessTurnAction validates and applies one roll, select or score action
// for the given player. Mutations happen only on the success paths; a
// rejected action leaves the session untouched.
func ProcessTurnAction(session *types.Session, playerId types.PlayerIdType, msg *wire.TurnActionMessage, now int64) ActionResult {
	ts := session.TurnState
	if ts == nil || ts.ActiveTurnPlayerId == "" {
		return rejectAction(msg.Action, types.ReasonTurnUnavailable, types.ReasonTurnUnavailable, false)
	}
	if ts.ActiveTurnPlayerId != playerId {
		return rejectAction(msg.Action, types.ReasonTurnNotActive, types.ReasonNotYourTurn, true)
	}
	participant, ok := session.Participants[playerId]
	if !ok {
		return rejectAction(msg.Action, types.ReasonUnknownPlayer, types.ReasonUnknownPlayer, true)
	}

	switch msg.Action {
	case wire.ActionRoll:
		return processRoll(session, participant, msg.Roll, now)
	case wire.ActionSelect:
		return processSelect(session, participant, msg.Score, now)
	case wire.ActionScore:
		return processScore(session, participant, msg.Score, now)
	default:
		return rejectAction(msg.Action, types.ReasonInvalidAction, types.ReasonInvalidAction, false)
	}
}

func processRoll(session *types.Session, p *types.Participant, roll *types.TurnRollPayload, now int64) ActionResult {
	ts := session.TurnState
	if ts.Phase != types.PhaseAwaitRoll {
		return rejectAction(wire.ActionRoll, types.ReasonTurnActionInvalidPhase, types.ReasonTurnActionInvalidPhase, true)
	}
	if reason := validateRollPayload(session.GameConfig, p, roll); reason != "" {
		return rejectAction(wire.ActionRoll, types.ReasonTurnActionInvalidPayload, reason, true)
	}

	snapshot := &types.RollSnapshot{
		RollIndex:    roll.RollIndex,
		ServerRollId: uuid.NewString(),
		Dice:         append([]types.Die(nil), roll.Dice...),
	}
	ts.LastRollSnapshot = snapshot
	ts.LastScoreSummary = nil
	ts.Phase = types.PhaseAwaitScore
	ts.UpdatedAt = now
	p.TurnTimeoutCount = 0
	session.LastActivityAt = now

	return ActionResult{
		Ok:     true,
		Action: wire.ActionRoll,
		Message: &wire.TurnActionBroadcast{
			Type:         wire.TypeTurnAction,
			PlayerId:     string(p.PlayerId),
			Action:       wire.ActionRoll,
			RollSnapshot: snapshot.Clone(),
			Timestamp:    now,
		},
		ShouldBroadcastState: true,
		ShouldPersist:        true,
		ActionTimestamp:      now,
	}
}

func processSelect(session *types.Session, p *types.Participant, score *types.TurnScorePayload, now int64) ActionResult {
	ts := session.TurnState
	if ts.Phase != types.PhaseAwaitScore {
		return rejectAction(wire.ActionSelect, types.ReasonTurnActionInvalidPhase, types.ReasonTurnActionInvalidPhase, true)
	}
	if score == nil {
		return rejectAction(wire.ActionSelect, types.ReasonTurnActionInvalidPayload, types.ReasonTurnActionInvalidPayload, true)
	}
	points, reason := SelectionPoints(ts.LastRollSnapshot, score.SelectedDiceIds)
	if reason != "" {
		return rejectAction(wire.ActionSelect, types.ReasonTurnActionInvalidPayload, reason, true)
	}

	// Preview only: nothing is applied to the participant and nothing is
	// persisted; clients just see the projected outcome.
	remaining := p.RemainingDice
	if n := len(ts.LastRollSnapshot.Dice); n > remaining {
		remaining = n
	}
	remaining -= len(score.SelectedDiceIds)
	if remaining < 0 {
		remaining = 0
	}
	preview := &types.ScoreSummary{
		SelectedDiceIds:     append([]string(nil), score.SelectedDiceIds...),
		Points:              points,
		RollServerId:        ts.LastRollSnapshot.ServerRollId,
		ProjectedTotalScore: p.Score + points,
		RemainingDice:       remaining,
		IsComplete:          remaining == 0,
	}

	return ActionResult{
		Ok:     true,
		Action: wire.ActionSelect,
		Message: &wire.TurnActionBroadcast{
			Type:         wire.TypeTurnAction,
			PlayerId:     string(p.PlayerId),
			Action:       wire.ActionSelect,
			ScoreSummary: preview,
			Timestamp:    now,
		},
		ActionTimestamp: now,
	}
}

func processScore(session *types.Session, p *types.Participant, score *types.TurnScorePayload, now int64) ActionResult {
	ts := session.TurnState
	if ts.Phase != types.PhaseAwaitScore {
		return rejectAction(wire.ActionScore, types.ReasonTurnActionInvalidPhase, types.ReasonTurnActionInvalidPhase, true)
	}
	if score == nil || len(score.SelectedDiceIds) == 0 {
		return rejectAction(wire.ActionScore, types.ReasonTurnActionInvalidPayload, types.ReasonTurnActionInvalidPayload, true)
	}
	if ts.LastRollSnapshot == nil || score.RollServerId != ts.LastRollSnapshot.ServerRollId {
		return rejectAction(wire.ActionScore, types.ReasonTurnActionInvalidScore, types.ReasonScoreRollMismatch, true)
	}
	points, reason := SelectionPoints(ts.LastRollSnapshot, score.SelectedDiceIds)
	if reason != "" {
		return rejectAction(wire.ActionScore, types.ReasonTurnActionInvalidPayload, reason, true)
	}
	if points != score.Points {
		return rejectAction(wire.ActionScore, types.ReasonTurnActionInvalidScore, types.ReasonScorePointsMismatch, true)
	}

	summary := &types.ScoreSummary{
		SelectedDiceIds: append([]string(nil), score.SelectedDiceIds...),
		Points:          points,
		RollServerId:    score.RollServerId,
	}
	didComplete := ApplyParticipantScoreUpdate(p, summary, len(ts.LastRollSnapshot.Dice), now)
	ts.LastScoreSummary = summary
	ts.Phase = types.PhaseReadyToEnd
	ts.UpdatedAt = now
	p.TurnTimeoutCount = 0
	session.LastActivityAt = now

	if didComplete {
		CompleteSessionRoundWithWinner(session, p.PlayerId, now)
	}

	return ActionResult{
		Ok:     true,
		Action: wire.ActionScore,
		Message: &wire.TurnActionBroadcast{
			Type:         wire.TypeTurnAction,
			PlayerId:     string(p.PlayerId),
			Action:       wire.ActionScore,
			ScoreSummary: summary.Clone(),
			Timestamp:    now,
		},
		WinnerResolved:       didComplete,
		ShouldBroadcastState: true,
		ShouldPersist:        true,
		ActionTimestamp:      now,
	}
}

// validateRollPayload checks the client-reported physics roll against the
// session config and the participant's remaining dice.
func validateRollPayload(cfg types.GameConfig, p *types.Participant, roll *types.TurnRollPayload) string {
	if roll == nil || len(roll.Dice) == 0 {
		return types.ReasonTurnActionInvalidPayload
	}
	remaining := p.RemainingDice
	if remaining == 0 {
		remaining = cfg.DiceCount
	}
	if len(roll.Dice) > remaining {
		return types.ReasonTurnActionInvalidPayload
	}
	seen := make(map[string]bool, len(roll.Dice))
	for _, d := range roll.Dice {
		if d.DieId == "" || seen[d.DieId] {
			return types.ReasonTurnActionInvalidPayload
		}
		seen[d.DieId] = true
		if d.Sides != cfg.DieSides || d.Value < 1 || d.Value > d.Sides {
			return types.ReasonTurnActionInvalidPayload
		}
	}
	return ""
}

// SelectionPoints sums the face values of the selected dice in the snapshot.
// Returns a non-empty reason for unknown or duplicate die ids.
func SelectionPoints(snapshot *types.RollSnapshot, selectedDiceIds []string) (int, string) {
	if snapshot == nil {
		return 0, types.ReasonScoreRollMismatch
	}
	seen := make(map[string]bool, len(selectedDiceIds))
	points := 0
	for _, id := range selectedDiceIds {
		if seen[id] {
			return 0, types.ReasonTurnActionInvalidPayload
		}
		seen[id] = true
		die, ok := snapshot.Die(id)
		if !ok {
			return 0, types.ReasonTurnActionInvalidPayload
		}
		points += die.Value
	}
	return points, ""
}
