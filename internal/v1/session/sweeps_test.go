package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumbledice/backend/go/internal/v1/bot"
	"github.com/tumbledice/backend/go/internal/v1/game"
	"github.com/tumbledice/backend/go/internal/v1/persistence"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

// newSweepService returns a service whose clock the test can move.
func newSweepService(cfg Config) (*Service, *int64) {
	now := new(int64)
	*now = testNow
	w := store.NewWorld(persistence.NewMemoryAdapter(), []byte("test-signing-key"),
		store.WithClock(types.ClockFunc(func() int64 { return *now })),
		store.WithSleep(func(time.Duration) {}),
	)
	return NewService(w, &recordingRelay{}, bot.NewGreedyEngine(1), cfg), now
}

func TestSweepIdleSessions(t *testing.T) {
	svc, now := newSweepService(Config{IdleTtlMs: 30_000})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	assert.Empty(t, svc.SweepIdleSessions(ctx))

	*now = testNow + 30_001
	expired := svc.SweepIdleSessions(ctx)
	require.Len(t, expired, 1)
	assert.Equal(t, session.SessionId, expired[0])
	assert.Nil(t, svc.World().GetSession(session.SessionId))
}

func TestSweepStaleHeartbeats(t *testing.T) {
	svc, now := newSweepService(Config{IdleTtlMs: 60 * 60 * 1000})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice", BotCount: 0}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})

	*now = testNow + 50_000
	_ = svc.World().Update(func(data *types.StoreData) error {
		data.Sessions[session.SessionId].Participants["bob"].LastHeartbeatAt = *now
		return nil
	})

	removed := svc.SweepStaleHeartbeats(ctx, 40_000)
	assert.Equal(t, 1, removed)

	live := svc.World().GetSession(session.SessionId)
	require.NotNil(t, live)
	assert.NotContains(t, live.Participants, types.PlayerIdType("alice"))
	assert.Contains(t, live.Participants, types.PlayerIdType("bob"))
}

func TestSweepStaleHeartbeatsSkipsBots(t *testing.T) {
	svc, now := newSweepService(Config{IdleTtlMs: 60 * 60 * 1000, MaxBots: 2})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice", BotCount: 2}))
	_ = svc.World().Update(func(data *types.StoreData) error {
		data.Sessions[session.SessionId].Participants["alice"].LastHeartbeatAt = testNow + 100_000
		return nil
	})

	*now = testNow + 100_000
	assert.Zero(t, svc.SweepStaleHeartbeats(ctx, 40_000))
}

func TestCollectTimeoutWarningsOncePerRound(t *testing.T) {
	svc, now := newSweepService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.SetParticipantState(ctx, session.SessionId, "alice", "sit")
	svc.SetParticipantState(ctx, session.SessionId, "alice", "ready")

	live := svc.World().GetSession(session.SessionId)
	require.NotZero(t, live.TurnState.TurnExpiresAt)

	// Outside the warning window: nothing.
	assert.Empty(t, svc.CollectTimeoutWarnings(5_000))

	*now = live.TurnState.TurnExpiresAt - 2_000
	warnings := svc.CollectTimeoutWarnings(5_000)
	require.Len(t, warnings, 1)
	assert.Equal(t, "alice", warnings[0].PlayerId)
	assert.Equal(t, live.TurnState.TurnExpiresAt, warnings[0].TurnExpiresAt)

	// The warning is sent once per (player, round).
	assert.Empty(t, svc.CollectTimeoutWarnings(5_000))
}

func TestExpiredTurnSessions(t *testing.T) {
	svc, now := newSweepService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.SetParticipantState(ctx, session.SessionId, "alice", "sit")
	svc.SetParticipantState(ctx, session.SessionId, "alice", "ready")

	assert.Empty(t, svc.ExpiredTurnSessions())

	*now = svc.World().GetSession(session.SessionId).TurnState.TurnExpiresAt + 1
	expired := svc.ExpiredTurnSessions()
	require.Len(t, expired, 1)
	assert.Equal(t, session.SessionId, expired[0])
}

func TestBotTurnSessionsSplitBySpeed(t *testing.T) {
	svc, _ := newSweepService(Config{MaxBots: 2})

	plantDemoBotRoom := func(id types.SessionIdType, autoRun, speed bool) {
		_ = svc.World().Update(func(data *types.StoreData) error {
			session := &types.Session{
				SessionId:      id,
				RoomCode:       "D" + string(id[len(id)-5:]),
				RoomKind:       types.RoomKindPrivate,
				GameDifficulty: types.DifficultyNormal,
				GameConfig:     types.DefaultGameConfig(),
				CreatedAt:      testNow,
				LastActivityAt: testNow,
				ExpiresAt:      testNow + 30*60*1000,
				DemoMode:       true,
				DemoAutoRun:    autoRun,
				DemoSpeedMode:  speed,
				Participants: map[types.PlayerIdType]*types.Participant{
					"bot-1": {
						PlayerId: "bot-1", IsBot: true, IsSeated: true, IsReady: true,
						RemainingDice: 6, JoinedAt: testNow,
					},
				},
				ChatConduct: types.NewChatConductState(),
				RoomBans:    make(map[types.PlayerIdType]*types.BanRecord),
			}
			game.EnsureSessionTurnState(session, testNow)
			data.Sessions[id] = session
			return nil
		})
	}

	plantDemoBotRoom("demo-norm", true, false)
	plantDemoBotRoom("demo-fast", true, true)
	plantDemoBotRoom("demo-idle", false, false)

	normal, fast := svc.BotTurnSessions()
	assert.Equal(t, []types.SessionIdType{"demo-norm"}, normal)
	assert.Equal(t, []types.SessionIdType{"demo-fast"}, fast)
}
