package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumbledice/backend/go/internal/v1/bot"
	"github.com/tumbledice/backend/go/internal/v1/persistence"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

const testNow = int64(10_000)

// recordingRelay captures fanout for assertions.
type recordingRelay struct {
	broadcasts []any
	sends      []any
	closes     []string
}

func (r *recordingRelay) BroadcastToSession(_ types.SessionIdType, m any) {
	r.broadcasts = append(r.broadcasts, m)
}

func (r *recordingRelay) SendToSessionPlayer(_ types.SessionIdType, _ types.PlayerIdType, m any) {
	r.sends = append(r.sends, m)
}

func (r *recordingRelay) BroadcastRoomChannelToSession(_ types.SessionIdType, _ types.PlayerIdType, m any) {
	r.broadcasts = append(r.broadcasts, m)
}

func (r *recordingRelay) CloseSessionPlayerSockets(_ types.SessionIdType, playerId types.PlayerIdType, _ int, reason string) {
	r.closes = append(r.closes, string(playerId)+":"+reason)
}

func (r *recordingRelay) turnStarts() []*wire.TurnStartMessage {
	var out []*wire.TurnStartMessage
	for _, m := range r.broadcasts {
		if ts, okCast := m.(*wire.TurnStartMessage); okCast {
			out = append(out, ts)
		}
	}
	return out
}

func newControlService(cfg Config) (*Service, *recordingRelay) {
	w := store.NewWorld(persistence.NewMemoryAdapter(), []byte("test-signing-key"),
		store.WithClock(types.ClockFunc(func() int64 { return testNow })),
		store.WithSleep(func(time.Duration) {}),
	)
	relay := &recordingRelay{}
	return NewService(w, relay, bot.NewGreedyEngine(1), cfg), relay
}

func createdSession(t *testing.T, result Result) *types.Session {
	t.Helper()
	require.Equal(t, 200, result.Status, "payload: %v", result.Payload)
	session, okCast := result.Payload["session"].(*types.Session)
	require.True(t, okCast)
	return session
}

func authBundle(t *testing.T, result Result) *store.TokenBundle {
	t.Helper()
	bundle, okCast := result.Payload["auth"].(*store.TokenBundle)
	require.True(t, okCast)
	return bundle
}

func TestCreateSessionPrivateRoom(t *testing.T) {
	svc, _ := newControlService(Config{IdleTtlMs: 30_000})
	ctx := context.Background()

	result := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice", DisplayName: "Alice"})

	session := createdSession(t, result)
	assert.Equal(t, types.RoomKindPrivate, session.RoomKind)
	assert.Len(t, session.RoomCode, 6)
	for _, c := range session.RoomCode {
		assert.Contains(t, roomCodeAlphabet, string(c))
	}
	assert.Equal(t, types.PlayerIdType("alice"), session.OwnerPlayerId)
	assert.Equal(t, testNow+30_000, session.ExpiresAt)
	require.Contains(t, session.Participants, types.PlayerIdType("alice"))

	bundle := authBundle(t, result)
	assert.NotEmpty(t, bundle.AccessToken)
	assert.NotEmpty(t, bundle.RefreshToken)

	// Private rooms never appear in the public listing.
	rooms := svc.ListRooms(ctx, "")
	assert.Equal(t, 200, rooms.Status)
	assert.Empty(t, rooms.Payload["rooms"])
}

func TestCreateSessionRejectsBlankPlayer(t *testing.T) {
	svc, _ := newControlService(Config{})

	result := svc.CreateSession(context.Background(), CreateSessionRequest{})
	assert.Equal(t, 400, result.Status)
	assert.Equal(t, types.ReasonInvalidPlayerId, result.Payload["error"])
}

func TestCreateSessionExplicitCodeConflict(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()

	first := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice", RoomCode: "TABLES"})
	require.Equal(t, 200, first.Status)

	second := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "bob", RoomCode: "TABLES"})
	assert.Equal(t, 409, second.Status)
	assert.Equal(t, types.ReasonRoomCodeTaken, second.Payload["error"])
}

func TestCreateSessionSeedsBots(t *testing.T) {
	svc, _ := newControlService(Config{MaxBots: 4})

	session := createdSession(t, svc.CreateSession(context.Background(),
		CreateSessionRequest{PlayerId: "alice", BotCount: 9}))

	bots := 0
	for _, p := range session.Participants {
		if p.IsBot {
			bots++
			assert.True(t, p.IsSeated)
			assert.True(t, p.IsReady)
		}
	}
	assert.Equal(t, 4, bots)
}

func TestJoinSessionById(t *testing.T) {
	svc, relay := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	result := svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId},
		JoinSessionRequest{PlayerId: "bob", DisplayName: "Bob"})

	joined := createdSession(t, result)
	assert.Contains(t, joined.Participants, types.PlayerIdType("bob"))
	assert.NotEmpty(t, authBundle(t, result).AccessToken)

	// Membership changes fan out a fresh session_state.
	states := 0
	for _, m := range relay.broadcasts {
		if _, okCast := m.(wire.SessionStateMessage); okCast {
			states++
		}
	}
	assert.Greater(t, states, 0)
}

func TestJoinSessionByRoomCode(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	result := svc.JoinSessionByTarget(ctx, JoinTarget{RoomCode: session.RoomCode},
		JoinSessionRequest{PlayerId: "bob"})
	assert.Equal(t, 200, result.Status)

	missing := svc.JoinSessionByTarget(ctx, JoinTarget{RoomCode: "ZZZZZZ"},
		JoinSessionRequest{PlayerId: "bob"})
	assert.Equal(t, 404, missing.Status)
	assert.Equal(t, types.ReasonRoomNotFound, missing.Payload["error"])
}

func TestJoinSessionRoomFull(t *testing.T) {
	svc, _ := newControlService(Config{MaxHumanPlayers: 1})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	result := svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId},
		JoinSessionRequest{PlayerId: "bob"})

	assert.Equal(t, 409, result.Status)
	assert.Equal(t, types.ReasonRoomFull, result.Payload["error"])
	assert.NotContains(t, svc.World().GetSession(session.SessionId).Participants, types.PlayerIdType("bob"))
}

func TestJoinSessionRejoinBypassesCapacity(t *testing.T) {
	svc, _ := newControlService(Config{MaxHumanPlayers: 1})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	result := svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId},
		JoinSessionRequest{PlayerId: "alice", DisplayName: "Alice Again"})

	joined := createdSession(t, result)
	assert.Equal(t, types.DisplayNameType("Alice Again"), joined.Participants["alice"].DisplayName)
}

func TestJoinSessionUnknownId(t *testing.T) {
	svc, _ := newControlService(Config{})

	result := svc.JoinSessionByTarget(context.Background(),
		JoinTarget{SessionId: "no-such-session"}, JoinSessionRequest{PlayerId: "bob"})

	assert.Equal(t, 410, result.Status)
	assert.Equal(t, types.ReasonSessionExpired, result.Payload["error"])
}

func TestLeaveSessionIdempotent(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})

	first := svc.LeaveSession(ctx, session.SessionId, "bob")
	assert.Equal(t, 200, first.Status)
	assert.Equal(t, true, first.Payload["ok"])
	assert.NotContains(t, svc.World().GetSession(session.SessionId).Participants, types.PlayerIdType("bob"))

	second := svc.LeaveSession(ctx, session.SessionId, "bob")
	assert.Equal(t, 200, second.Status)
	assert.Equal(t, true, second.Payload["ok"])

	unknown := svc.LeaveSession(ctx, "no-such-session", "bob")
	assert.Equal(t, 200, unknown.Status)
}

func TestHeartbeat(t *testing.T) {
	svc, _ := newControlService(Config{IdleTtlMs: 30_000})
	ctx := context.Background()
	created := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"})
	session := createdSession(t, created)
	token := authBundle(t, created).AccessToken

	result := svc.Heartbeat(ctx, session.SessionId, "alice", token)
	assert.Equal(t, 200, result.Status)
	assert.Equal(t, true, result.Payload["ok"])

	bad := svc.Heartbeat(ctx, session.SessionId, "alice", "garbage")
	assert.Equal(t, 401, bad.Status)
	assert.Equal(t, types.ReasonTokenNotFound, bad.Payload["error"])
}

func TestHeartbeatRejectsForeignToken(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	mine := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"})
	other := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "bob"})

	result := svc.Heartbeat(ctx, createdSession(t, mine).SessionId, "alice",
		authBundle(t, other).AccessToken)

	assert.Equal(t, 401, result.Status)
	assert.Equal(t, types.ReasonSessionTokenMismatch, result.Payload["error"])
}

func TestSetParticipantStateSeatFlow(t *testing.T) {
	svc, relay := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	notSeated := svc.SetParticipantState(ctx, session.SessionId, "alice", "ready")
	assert.Equal(t, 409, notSeated.Status)
	assert.Equal(t, types.ReasonNotSeated, notSeated.Payload["error"])

	sat := svc.SetParticipantState(ctx, session.SessionId, "alice", "sit")
	assert.Equal(t, 200, sat.Status)
	assert.True(t, createdSession(t, sat).Participants["alice"].IsSeated)

	ready := svc.SetParticipantState(ctx, session.SessionId, "alice", "ready")
	assert.Equal(t, 200, ready.Status)

	// All seated humans ready: the turn flow begins.
	live := svc.World().GetSession(session.SessionId)
	assert.NotZero(t, live.GameStartedAt)
	assert.NotZero(t, live.TurnState.TurnExpiresAt)
	assert.NotEmpty(t, relay.turnStarts())
}

func TestSetParticipantStateStandClearsReady(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.SetParticipantState(ctx, session.SessionId, "alice", "sit")
	svc.SetParticipantState(ctx, session.SessionId, "alice", "ready")

	svc.SetParticipantState(ctx, session.SessionId, "alice", "stand")

	p := svc.World().GetSession(session.SessionId).Participants["alice"]
	assert.False(t, p.IsSeated)
	assert.False(t, p.IsReady)
}

func TestSetParticipantStateBadAction(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	result := svc.SetParticipantState(ctx, session.SessionId, "alice", "dance")
	assert.Equal(t, 400, result.Status)
	assert.Equal(t, types.ReasonInvalidAction, result.Payload["error"])

	missing := svc.SetParticipantState(ctx, session.SessionId, "ghost", "sit")
	assert.Equal(t, 404, missing.Status)
}

func TestDemoControls(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{
		PlayerId: "alice", DemoMode: true, DemoAutoRun: true,
	}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})

	notOwner := svc.DemoControls(ctx, session.SessionId, "bob", "pause")
	assert.Equal(t, 403, notOwner.Status)
	assert.Equal(t, types.ReasonNotRoomOwner, notOwner.Payload["error"])

	paused := svc.DemoControls(ctx, session.SessionId, "alice", "pause")
	require.Equal(t, 200, paused.Status)
	controls := paused.Payload["controls"].(map[string]any)
	assert.Equal(t, false, controls["demoAutoRun"])

	fast := svc.DemoControls(ctx, session.SessionId, "alice", "speed_fast")
	require.Equal(t, 200, fast.Status)
	assert.Equal(t, true, fast.Payload["controls"].(map[string]any)["demoSpeedMode"])

	bad := svc.DemoControls(ctx, session.SessionId, "alice", "warp")
	assert.Equal(t, 400, bad.Status)
}

func TestQueueParticipantForNextGame(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	created := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"})
	session := createdSession(t, created)
	token := authBundle(t, created).AccessToken

	// Round still running: reported with a 200, not an error.
	pending := svc.QueueParticipantForNextGame(ctx, session.SessionId, "alice", token)
	require.Equal(t, 200, pending.Status)
	assert.Equal(t, false, pending.Payload["queuedForNextGame"])
	assert.Equal(t, types.ReasonRoundInProgress, pending.Payload["reason"])

	_ = svc.World().Update(func(data *types.StoreData) error {
		live := data.Sessions[session.SessionId]
		live.SessionComplete = true
		live.Participants["alice"].IsSeated = false
		return nil
	})
	unseated := svc.QueueParticipantForNextGame(ctx, session.SessionId, "alice", token)
	require.Equal(t, 200, unseated.Status)
	assert.Equal(t, types.ReasonNotSeated, unseated.Payload["reason"])

	_ = svc.World().Update(func(data *types.StoreData) error {
		data.Sessions[session.SessionId].Participants["alice"].IsSeated = true
		return nil
	})
	queued := svc.QueueParticipantForNextGame(ctx, session.SessionId, "alice", token)
	require.Equal(t, 200, queued.Status)
	assert.Equal(t, true, queued.Payload["queuedForNextGame"])
	assert.True(t, svc.World().GetSession(session.SessionId).Participants["alice"].QueuedForNextGame)
}

func TestRefreshSessionAuth(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	created := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"})
	session := createdSession(t, created)
	bundle := authBundle(t, created)

	rotated := svc.RefreshSessionAuth(ctx, session.SessionId, "alice", bundle.RefreshToken)
	require.Equal(t, 200, rotated.Status)
	fresh := authBundle(t, rotated)
	assert.NotEqual(t, bundle.AccessToken, fresh.AccessToken)

	// The old pair is revoked by the rotation.
	stale := svc.Heartbeat(ctx, session.SessionId, "alice", bundle.AccessToken)
	assert.Equal(t, 401, stale.Status)

	live := svc.Heartbeat(ctx, session.SessionId, "alice", fresh.AccessToken)
	assert.Equal(t, 200, live.Status)
}

func TestRefreshSessionAuthRejectsAccessToken(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	created := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"})
	session := createdSession(t, created)

	result := svc.RefreshSessionAuth(ctx, session.SessionId, "alice", authBundle(t, created).AccessToken)
	assert.Equal(t, 401, result.Status)
	assert.Equal(t, types.ReasonUnauthorized, result.Payload["error"])
}

func TestRefreshSessionAuthGoneSession(t *testing.T) {
	svc, _ := newControlService(Config{})

	result := svc.RefreshSessionAuth(context.Background(), "no-such-session", "alice", "whatever")
	assert.Equal(t, 410, result.Status)
	assert.Equal(t, types.ReasonSessionExpired, result.Payload["error"])
}

func TestModerateBanThenRejoinBlocked(t *testing.T) {
	svc, relay := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "mallory"})

	result := svc.Moderate(ctx, session.SessionId, "alice", "mallory", "ban")
	require.Equal(t, 200, result.Status)

	live := svc.World().GetSession(session.SessionId)
	assert.NotContains(t, live.Participants, types.PlayerIdType("mallory"))
	assert.Contains(t, live.RoomBans, types.PlayerIdType("mallory"))
	assert.Contains(t, relay.closes, "mallory:moderation_ban")

	rejoin := svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId},
		JoinSessionRequest{PlayerId: "mallory"})
	assert.Equal(t, 403, rejoin.Status)
	assert.Equal(t, types.ReasonRoomBanned, rejoin.Payload["error"])
}

func TestModerateKickAllowsRejoin(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})

	result := svc.Moderate(ctx, session.SessionId, "alice", "bob", "kick")
	require.Equal(t, 200, result.Status)
	assert.NotContains(t, svc.World().GetSession(session.SessionId).Participants, types.PlayerIdType("bob"))

	rejoin := svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId},
		JoinSessionRequest{PlayerId: "bob"})
	assert.Equal(t, 200, rejoin.Status)
}

func TestModerateAuthorization(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "carol"})

	notOwner := svc.Moderate(ctx, session.SessionId, "bob", "carol", "kick")
	assert.Equal(t, 403, notOwner.Status)

	self := svc.Moderate(ctx, session.SessionId, "alice", "alice", "kick")
	assert.Equal(t, 409, self.Status)
	assert.Equal(t, types.ReasonCannotModerateSelf, self.Payload["error"])

	badAction := svc.Moderate(ctx, session.SessionId, "alice", "bob", "smite")
	assert.Equal(t, 400, badAction.Status)
}

func TestModerateAdminOverride(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "op"})
	_ = svc.World().Update(func(data *types.StoreData) error {
		data.Players["op"].AdminRole = types.AdminRoleOperator
		return nil
	})

	result := svc.Moderate(ctx, session.SessionId, "op", "bob", "kick")
	assert.Equal(t, 200, result.Status)
}
