package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// plantSession inserts a session directly so tests control every field.
func plantSession(svc *Service, session *types.Session) {
	_ = svc.World().Update(func(data *types.StoreData) error {
		data.Sessions[session.SessionId] = session
		return nil
	})
}

func publicSession(sessionId types.SessionIdType, kind types.RoomKind) *types.Session {
	return &types.Session{
		SessionId:      sessionId,
		RoomCode:       "PUB" + string(sessionId[len(sessionId)-3:]),
		RoomKind:       kind,
		GameDifficulty: types.DifficultyNormal,
		GameConfig:     types.DefaultGameConfig(),
		CreatedAt:      testNow,
		LastActivityAt: testNow,
		ExpiresAt:      testNow + 30*60*1000,
		Participants:   make(map[types.PlayerIdType]*types.Participant),
		ChatConduct:    types.NewChatConductState(),
		RoomBans:       make(map[types.PlayerIdType]*types.BanRecord),
	}
}

func TestRemoveParticipantPromotesOwner(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "carol"})
	for _, pid := range []types.PlayerIdType{"bob", "carol"} {
		svc.SetParticipantState(ctx, session.SessionId, pid, "sit")
	}
	// bob joined before carol but shares the frozen clock; seat both and let
	// the tiebreak fall to player id order.
	svc.RemoveParticipantFromSession(ctx, session.SessionId, "alice", RemoveOptions{
		Source: RemoveSourceLeave, SocketReason: "left_session",
	})

	live := svc.World().GetSession(session.SessionId)
	require.NotNil(t, live)
	assert.Equal(t, types.PlayerIdType("bob"), live.OwnerPlayerId)
}

func TestRemoveParticipantLastHumanExpiresPrivateRoom(t *testing.T) {
	svc, relay := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))

	svc.RemoveParticipantFromSession(ctx, session.SessionId, "alice", RemoveOptions{
		Source: RemoveSourceLeave, SocketReason: "left_session",
	})

	assert.Nil(t, svc.World().GetSession(session.SessionId))
	assert.Contains(t, relay.closes, "alice:left_session")
}

func TestRemoveParticipantDropsSessionTokens(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	created := svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"})
	session := createdSession(t, created)
	token := authBundle(t, created).AccessToken

	svc.RemoveParticipantFromSession(ctx, session.SessionId, "alice", RemoveOptions{
		Source: RemoveSourceLeave, SocketReason: "left_session",
	})

	assert.Nil(t, svc.World().LookupToken(token))
}

func TestRemoveParticipantResetsPublicRoom(t *testing.T) {
	svc, _ := newControlService(Config{IdleTtlMs: 30_000})
	ctx := context.Background()
	session := publicSession("pub-1", types.RoomKindPublicDefault)
	session.Participants["alice"] = &types.Participant{
		PlayerId: "alice", IsSeated: true, IsReady: true,
		RemainingDice: 6, JoinedAt: testNow, LastHeartbeatAt: testNow,
	}
	session.RoomBans["mallory"] = &types.BanRecord{PlayerId: "mallory", BannedAt: testNow}
	session.GameStartedAt = testNow
	plantSession(svc, session)

	svc.RemoveParticipantFromSession(ctx, "pub-1", "alice", RemoveOptions{
		Source: RemoveSourceLeave, SocketReason: "left_session",
	})

	live := svc.World().GetSession("pub-1")
	require.NotNil(t, live, "public default rooms survive emptying")
	assert.Empty(t, live.Participants)
	assert.Zero(t, live.GameStartedAt)
	assert.False(t, live.SessionComplete)
	assert.Equal(t, testNow+30_000, live.ExpiresAt)
	// Room bans survive the reset.
	assert.Contains(t, live.RoomBans, types.PlayerIdType("mallory"))
}

func TestRemoveParticipantSingleHumanForfeit(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})
	for _, pid := range []types.PlayerIdType{"alice", "bob"} {
		svc.SetParticipantState(ctx, session.SessionId, pid, "sit")
		svc.SetParticipantState(ctx, session.SessionId, pid, "ready")
	}
	require.NotZero(t, svc.World().GetSession(session.SessionId).GameStartedAt)

	svc.RemoveParticipantFromSession(ctx, session.SessionId, "bob", RemoveOptions{
		Source: RemoveSourceLeave, SocketReason: "left_session",
	})

	live := svc.World().GetSession(session.SessionId)
	require.NotNil(t, live)
	assert.True(t, live.SessionComplete)
	assert.True(t, live.Participants["alice"].IsComplete)
}

func TestExpireSessionClosesSocketsAndDeletes(t *testing.T) {
	svc, relay := newControlService(Config{})
	ctx := context.Background()
	session := createdSession(t, svc.CreateSession(ctx, CreateSessionRequest{PlayerId: "alice"}))
	svc.JoinSessionByTarget(ctx, JoinTarget{SessionId: session.SessionId}, JoinSessionRequest{PlayerId: "bob"})

	found, _ := svc.ExpireSession(ctx, session.SessionId, "admin_expire")
	assert.True(t, found)
	assert.Nil(t, svc.World().GetSession(session.SessionId))
	assert.Contains(t, relay.closes, "alice:admin_expire")
	assert.Contains(t, relay.closes, "bob:admin_expire")

	found, _ = svc.ExpireSession(ctx, session.SessionId, "admin_expire")
	assert.False(t, found)
}

func TestReconcileCullsDeadPublicRooms(t *testing.T) {
	svc, _ := newControlService(Config{})
	ctx := context.Background()

	idle := publicSession("pub-idle", types.RoomKindPublicDefault)
	idle.ExpiresAt = testNow - 1
	plantSession(svc, idle)

	emptyOverflow := publicSession("pub-over", types.RoomKindPublicOverflow)
	plantSession(svc, emptyOverflow)

	liveDefault := publicSession("pub-live", types.RoomKindPublicDefault)
	plantSession(svc, liveDefault)

	result := svc.ListRooms(ctx, "")
	require.Equal(t, 200, result.Status)

	assert.Nil(t, svc.World().GetSession("pub-idle"))
	assert.Nil(t, svc.World().GetSession("pub-over"))
	assert.NotNil(t, svc.World().GetSession("pub-live"))

	rooms := result.Payload["rooms"].([]map[string]any)
	require.Len(t, rooms, 1)
	assert.Equal(t, "pub-live", rooms[0]["sessionId"])
}

func TestListRoomsOrderingAndLimit(t *testing.T) {
	svc, _ := newControlService(Config{RoomsDefaultLimit: 2})
	ctx := context.Background()

	quiet := publicSession("pub-quiet", types.RoomKindPublicOverflow)
	quiet.Participants["p1"] = &types.Participant{PlayerId: "p1", JoinedAt: testNow, LastHeartbeatAt: testNow}
	plantSession(svc, quiet)

	busy := publicSession("pub-busy", types.RoomKindPublicOverflow)
	for _, id := range []types.PlayerIdType{"p2", "p3"} {
		busy.Participants[id] = &types.Participant{PlayerId: id, JoinedAt: testNow, LastHeartbeatAt: testNow}
	}
	plantSession(svc, busy)

	preferred := publicSession("pub-default", types.RoomKindPublicDefault)
	preferred.Participants["p4"] = &types.Participant{PlayerId: "p4", JoinedAt: testNow, LastHeartbeatAt: testNow}
	plantSession(svc, preferred)

	result := svc.ListRooms(ctx, "")
	rooms := result.Payload["rooms"].([]map[string]any)
	require.Len(t, rooms, 2)
	// Default rooms sort ahead of overflow; fuller overflow rooms ahead of
	// quieter ones.
	assert.Equal(t, "pub-default", rooms[0]["sessionId"])
	assert.Equal(t, "pub-busy", rooms[1]["sessionId"])
}

func TestListRoomsLimitClamps(t *testing.T) {
	svc, _ := newControlService(Config{RoomsDefaultLimit: 5, RoomsMaxLimit: 3})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s := publicSession(types.SessionIdType("pub-"+string(rune('a'+i))+"xx"), types.RoomKindPublicDefault)
		plantSession(svc, s)
	}

	assert.Len(t, svc.ListRooms(ctx, "100").Payload["rooms"], 3)
	assert.Len(t, svc.ListRooms(ctx, "0").Payload["rooms"], 1)
	assert.Len(t, svc.ListRooms(ctx, "2").Payload["rooms"], 2)
	assert.Len(t, svc.ListRooms(ctx, "not-a-number").Payload["rooms"], 3)
}
