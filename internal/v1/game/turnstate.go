// Package game owns the per-session turn state machine and the turn action
// engine. Every function here is pure with respect to I/O: callers invoke
// them under the store writer and handle persistence and fanout themselves.
package game

import (
	"sort"

	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// nextGameDelayMs is the pause between a completed round and the next game
// window opening for queued participants.
const nextGameDelayMs = 10_000

// TurnAdvanceSourcePlayer and TurnAdvanceSourceServer tag who ended a turn.
const (
	TurnAdvanceSourcePlayer = "player"
	TurnAdvanceSourceServer = "server"
)

// eligibleForTurn reports whether a participant should hold a place in the
// turn order.
func eligibleForTurn(p *types.Participant) bool {
	return p != nil && p.IsSeated && !p.IsComplete && !p.QueuedForNextGame
}

// turnFlowReady reports whether turns should be running: at least one seated
// human with every seated human ready, or an auto-running demo of only bots.
func turnFlowReady(session *types.Session) bool {
	humans := 0
	for _, p := range session.Participants {
		if p.IsBot || !p.IsSeated {
			continue
		}
		humans++
		if !p.IsReady {
			return false
		}
	}
	if humans > 0 {
		return true
	}
	if session.DemoMode && session.DemoAutoRun {
		for _, p := range session.Participants {
			if p.IsBot && p.IsSeated && !p.IsComplete {
				return true
			}
		}
	}
	return false
}

// EnsureSessionTurnState is the central reconciler, called after any mutation
// that could change who should be playing. It rebuilds the turn order,
// repairs the phase machine and re-arms the turn timer. Idempotent.
func EnsureSessionTurnState(session *types.Session, now int64) {
	if session.TurnState == nil {
		session.TurnState = &types.TurnState{
			Round:         1,
			TurnNumber:    1,
			Phase:         types.PhaseAwaitRoll,
			TurnTimeoutMs: session.GameConfig.TurnTimeoutMs,
		}
	}
	ts := session.TurnState

	eligible := make(map[types.PlayerIdType]bool, len(session.Participants))
	for id, p := range session.Participants {
		if eligibleForTurn(p) {
			eligible[id] = true
		}
	}
	// A completed active player keeps their slot through ready_to_end so
	// their final turn_end can still land.
	if ts.Phase == types.PhaseReadyToEnd && ts.ActiveTurnPlayerId != "" {
		if p, ok := session.Participants[ts.ActiveTurnPlayerId]; ok && p.IsComplete {
			eligible[ts.ActiveTurnPlayerId] = true
		}
	}

	order := make([]types.PlayerIdType, 0, len(eligible))
	inOrder := make(map[types.PlayerIdType]bool, len(eligible))
	for _, id := range ts.Order {
		if eligible[id] && !inOrder[id] {
			order = append(order, id)
			inOrder[id] = true
		}
	}
	var added []types.PlayerIdType
	for id := range eligible {
		if !inOrder[id] {
			added = append(added, id)
		}
	}
	sort.Slice(added, func(i, j int) bool {
		pi, pj := session.Participants[added[i]], session.Participants[added[j]]
		if pi.JoinedAt != pj.JoinedAt {
			return pi.JoinedAt < pj.JoinedAt
		}
		return added[i] < added[j]
	})
	order = append(order, added...)
	ts.Order = order

	prevActive := ts.ActiveTurnPlayerId
	if prevActive == "" || !inOrderList(order, prevActive) {
		if len(order) > 0 {
			ts.ActiveTurnPlayerId = order[0]
		} else {
			ts.ActiveTurnPlayerId = ""
		}
		if ts.ActiveTurnPlayerId != prevActive {
			ts.Phase = types.PhaseAwaitRoll
			ts.LastRollSnapshot = nil
			ts.LastScoreSummary = nil
			ts.TurnExpiresAt = 0
		}
	}

	switch ts.Phase {
	case types.PhaseAwaitScore:
		if ts.LastRollSnapshot == nil {
			ts.Phase = types.PhaseAwaitRoll
		}
	case types.PhaseReadyToEnd:
		if ts.LastScoreSummary == nil {
			ts.Phase = types.PhaseAwaitScore
		} else if ts.LastRollSnapshot == nil || ts.LastScoreSummary.RollServerId != ts.LastRollSnapshot.ServerRollId {
			ts.Phase = types.PhaseAwaitScore
			ts.LastScoreSummary = nil
		}
	}

	if ts.TurnTimeoutMs == 0 {
		ts.TurnTimeoutMs = session.GameConfig.TurnTimeoutMs
	}
	if turnFlowReady(session) && ts.ActiveTurnPlayerId != "" && ts.TurnExpiresAt == 0 {
		ts.TurnExpiresAt = now + ts.TurnTimeoutMs
	}
	if ts.ActiveTurnPlayerId == "" || !turnFlowReady(session) {
		ts.TurnExpiresAt = 0
	}
	ts.UpdatedAt = now
}

func inOrderList(order []types.PlayerIdType, id types.PlayerIdType) bool {
	for _, o := range order {
		if o == id {
			return true
		}
	}
	return false
}

// BuildTurnStartMessage produces the turn_start envelope for the current
// active player.
func BuildTurnStartMessage(session *types.Session) *wire.TurnStartMessage {
	ts := session.TurnState
	if ts == nil || ts.ActiveTurnPlayerId == "" {
		return nil
	}
	return &wire.TurnStartMessage{
		Type:          wire.TypeTurnStart,
		PlayerId:      string(ts.ActiveTurnPlayerId),
		Round:         ts.Round,
		TurnNumber:    ts.TurnNumber,
		Phase:         ts.Phase,
		TurnExpiresAt: ts.TurnExpiresAt,
	}
}

// BuildTurnEndMessage produces the turn_end envelope for the player whose
// turn just finished.
func BuildTurnEndMessage(session *types.Session, endedBy types.PlayerIdType, source string) *wire.TurnEndBroadcast {
	ts := session.TurnState
	if ts == nil {
		return nil
	}
	finalScore := 0
	if p, ok := session.Participants[ts.ActiveTurnPlayerId]; ok {
		finalScore = p.Score
	}
	return &wire.TurnEndBroadcast{
		Type:       wire.TypeTurnEnd,
		PlayerId:   string(ts.ActiveTurnPlayerId),
		Round:      ts.Round,
		TurnNumber: ts.TurnNumber,
		EndedBy:    string(endedBy),
		Source:     source,
		FinalScore: finalScore,
	}
}

// AdvanceSessionTurn ends the active player's turn and hands the turn to the
// next non-complete participant cyclically. Returns the turn_end and
// turn_start envelopes together so callers broadcast them atomically; the
// turn_start is nil when the round finished instead. A non-empty reason means
// the advance was rejected.
func AdvanceSessionTurn(session *types.Session, endedBy types.PlayerIdType, source string, now int64) (*wire.TurnEndBroadcast, *wire.TurnStartMessage, string) {
	ts := session.TurnState
	if ts == nil || ts.ActiveTurnPlayerId == "" {
		return nil, nil, types.ReasonTurnUnavailable
	}
	if source == TurnAdvanceSourcePlayer && ts.ActiveTurnPlayerId != endedBy {
		return nil, nil, types.ReasonTurnNotActive
	}

	turnEnd := BuildTurnEndMessage(session, endedBy, source)
	prevIndex := indexOf(ts.Order, ts.ActiveTurnPlayerId)

	nextIndex := -1
	for step := 1; step <= len(ts.Order); step++ {
		i := (prevIndex + step) % len(ts.Order)
		p, ok := session.Participants[ts.Order[i]]
		if ok && eligibleForTurn(p) {
			nextIndex = i
			break
		}
	}

	if nextIndex == -1 {
		finishSessionRound(session, now)
		EnsureSessionTurnState(session, now)
		return turnEnd, nil, ""
	}

	ts.ActiveTurnPlayerId = ts.Order[nextIndex]
	ts.TurnNumber++
	if nextIndex <= prevIndex {
		ts.Round++
	}
	ts.Phase = types.PhaseAwaitRoll
	ts.LastRollSnapshot = nil
	ts.LastScoreSummary = nil
	ts.TurnExpiresAt = now + ts.TurnTimeoutMs
	ts.UpdatedAt = now

	EnsureSessionTurnState(session, now)
	return turnEnd, BuildTurnStartMessage(session), ""
}

func indexOf(order []types.PlayerIdType, id types.PlayerIdType) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return -1
}

// ApplyParticipantScoreUpdate applies a scored selection to the participant
// and fills in the summary's projection fields. Returns whether the
// participant just completed.
func ApplyParticipantScoreUpdate(p *types.Participant, summary *types.ScoreSummary, rollDiceCount int, now int64) bool {
	p.Score += summary.Points

	remaining := p.RemainingDice
	if rollDiceCount > remaining {
		remaining = rollDiceCount
	}
	remaining -= len(summary.SelectedDiceIds)
	if remaining < 0 {
		remaining = 0
	}
	p.RemainingDice = remaining

	summary.ProjectedTotalScore = p.Score
	summary.RemainingDice = remaining
	summary.IsComplete = remaining == 0

	if remaining == 0 && !p.IsComplete {
		p.IsComplete = true
		p.CompletedAt = now
		return true
	}
	return false
}

// CompleteSessionRoundWithWinner finalizes the round when a participant has
// used all their dice. The session stays readable until the next game window.
func CompleteSessionRoundWithWinner(session *types.Session, winnerId types.PlayerIdType, now int64) {
	session.SessionComplete = true
	session.CompletedAt = now
	session.NextGameStartsAt = now + nextGameDelayMs
	session.LastActivityAt = now
	if ts := session.TurnState; ts != nil {
		ts.TurnExpiresAt = 0
		ts.UpdatedAt = now
	}
}

// finishSessionRound handles turn advance finding no next candidate: the
// highest score on the table wins the round.
func finishSessionRound(session *types.Session, now int64) {
	var winner types.PlayerIdType
	best := -1
	for id, p := range session.Participants {
		if p.IsSeated && p.Score > best {
			best = p.Score
			winner = id
		}
	}
	CompleteSessionRoundWithWinner(session, winner, now)
	if ts := session.TurnState; ts != nil {
		ts.ActiveTurnPlayerId = ""
		ts.Order = nil
	}
}
