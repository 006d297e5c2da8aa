package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// scriptedEngine returns canned payloads so bot passes are deterministic.
type scriptedEngine struct {
	dice []types.Die
}

func (e *scriptedEngine) BuildTurnRollPayload(cfg types.GameConfig, remainingDice int, rollIndex int) types.TurnRollPayload {
	return types.TurnRollPayload{RollIndex: rollIndex, Dice: e.dice}
}

func (e *scriptedEngine) BuildTurnScoreSummary(snapshot *types.RollSnapshot, remainingDice int) types.TurnScorePayload {
	return types.TurnScorePayload{
		SelectedDiceIds: []string{snapshot.Dice[0].DieId},
		Points:          snapshot.Dice[0].Value,
		RollServerId:    snapshot.ServerRollId,
	}
}

func newBotSession() *types.Session {
	session := newTestSession()
	session.DemoMode = true
	session.DemoAutoRun = true
	for _, id := range []types.PlayerIdType{"bot-1", "bot-2"} {
		session.Participants[id] = &types.Participant{
			PlayerId:      id,
			IsBot:         true,
			IsSeated:      true,
			IsReady:       true,
			RemainingDice: session.GameConfig.DiceCount,
			JoinedAt:      testNow,
		}
	}
	EnsureSessionTurnState(session, testNow)
	return session
}

func TestExecuteBotTurn(t *testing.T) {
	session := newBotSession()
	active := session.TurnState.ActiveTurnPlayerId
	engine := &scriptedEngine{dice: []types.Die{die("b1", 5), die("b2", 2)}}

	result := ExecuteBotTurn(session, active, engine, testNow)

	assert.True(t, result.Advanced)
	assert.False(t, result.WinnerResolved)
	// roll broadcast, score broadcast, turn_end, turn_start
	require.Len(t, result.Messages, 4)

	assert.Equal(t, 5, session.Participants[active].Score)
	assert.NotEqual(t, active, session.TurnState.ActiveTurnPlayerId)
	assert.Equal(t, types.PhaseAwaitRoll, session.TurnState.Phase)
}

func TestExecuteBotTurnSkipsWhenNotActiveBot(t *testing.T) {
	session := newBotSession()
	other := types.PlayerIdType("bot-2")
	if session.TurnState.ActiveTurnPlayerId == other {
		other = "bot-1"
	}

	result := ExecuteBotTurn(session, other, &scriptedEngine{dice: []types.Die{die("b1", 5)}}, testNow)

	assert.Empty(t, result.Messages)
	assert.False(t, result.Advanced)
}

func TestExecuteBotTurnSkipsHumans(t *testing.T) {
	session := newTestSession("alice")
	EnsureSessionTurnState(session, testNow)

	result := ExecuteBotTurn(session, "alice", &scriptedEngine{dice: []types.Die{die("b1", 5)}}, testNow)

	assert.Empty(t, result.Messages)
	assert.False(t, result.Advanced)
}
