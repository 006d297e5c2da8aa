// Package bot provides the default turn engine for bot participants. Bots
// have no physics client, so the engine fabricates rolls server-side and
// greedily banks the highest die each turn.
package bot

import (
	"fmt"
	"math/rand"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// GreedyEngine rolls uniformly and always scores the single highest die,
// keeping the rest in play for later turns.
type GreedyEngine struct {
	rng *rand.Rand
}

// NewGreedyEngine seeds the engine. A fixed seed makes bot turns
// reproducible in tests.
func NewGreedyEngine(seed int64) *GreedyEngine {
	return &GreedyEngine{rng: rand.New(rand.NewSource(seed))}
}

// BuildTurnRollPayload fabricates a roll of the participant's remaining dice.
func (e *GreedyEngine) BuildTurnRollPayload(cfg types.GameConfig, remainingDice int, rollIndex int) types.TurnRollPayload {
	count := remainingDice
	if count <= 0 || count > cfg.DiceCount {
		count = cfg.DiceCount
	}
	dice := make([]types.Die, count)
	for i := range dice {
		dice[i] = types.Die{
			DieId: fmt.Sprintf("bot-r%d-d%d", rollIndex, i),
			Sides: cfg.DieSides,
			Value: e.rng.Intn(cfg.DieSides) + 1,
		}
	}
	return types.TurnRollPayload{RollIndex: rollIndex, Dice: dice}
}

// BuildTurnScoreSummary picks the highest-value die from the snapshot.
func (e *GreedyEngine) BuildTurnScoreSummary(snapshot *types.RollSnapshot, remainingDice int) types.TurnScorePayload {
	if snapshot == nil || len(snapshot.Dice) == 0 {
		return types.TurnScorePayload{}
	}
	best := snapshot.Dice[0]
	for _, d := range snapshot.Dice[1:] {
		if d.Value > best.Value {
			best = d
		}
	}
	return types.TurnScorePayload{
		SelectedDiceIds: []string{best.DieId},
		Points:          best.Value,
		RollServerId:    snapshot.ServerRollId,
	}
}
