package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tumbledice/backend/go/internal/v1/bot"
	"github.com/tumbledice/backend/go/internal/v1/conduct"
	"github.com/tumbledice/backend/go/internal/v1/persistence"
	"github.com/tumbledice/backend/go/internal/v1/session"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/tumbledice/backend/go/internal/v1/socket.(*Client).writePump"),
	)
}

type hubFixture struct {
	hub      *Hub
	sessions *session.Service
	world    *store.World
	server   *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	w := store.NewWorld(persistence.NewMemoryAdapter(), []byte("test-signing-key"),
		store.WithSleep(func(time.Duration) {}),
	)
	sessions := session.NewService(w, types.NopRelay{}, bot.NewGreedyEngine(1), session.Config{})
	hub := NewHub(w, sessions, conduct.NewFilter(), DefaultConfig())
	sessions.SetRelay(hub)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Shutdown(context.Background())
		server.Close()
	})
	return &hubFixture{hub: hub, sessions: sessions, world: w, server: server}
}

// seatPlayer creates or joins a session and returns its id with the player's
// access token.
func (f *hubFixture) seatPlayer(t *testing.T, sessionId types.SessionIdType, playerId string) (types.SessionIdType, string) {
	t.Helper()
	ctx := context.Background()
	var result session.Result
	if sessionId == "" {
		result = f.sessions.CreateSession(ctx, session.CreateSessionRequest{PlayerId: playerId})
	} else {
		result = f.sessions.JoinSessionByTarget(ctx, session.JoinTarget{SessionId: sessionId},
			session.JoinSessionRequest{PlayerId: playerId})
	}
	require.Equal(t, 200, result.Status, "payload: %v", result.Payload)
	live := result.Payload["session"].(*types.Session)
	bundle := result.Payload["auth"].(*store.TokenBundle)
	return live.SessionId, bundle.AccessToken
}

func (f *hubFixture) wsURL(sessionId types.SessionIdType, playerId, token string) string {
	base := strings.Replace(f.server.URL, "http", "ws", 1)
	return base + "?session=" + string(sessionId) + "&playerId=" + playerId + "&token=" + token
}

func (f *hubFixture) dial(t *testing.T, sessionId types.SessionIdType, playerId, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(sessionId, playerId, token), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope
}

// readUntilType skips intervening envelopes, e.g. session_state rebroadcasts.
func readUntilType(t *testing.T, conn *websocket.Conn, messageType string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		envelope := readEnvelope(t, conn)
		if envelope["type"] == messageType {
			return envelope
		}
	}
	t.Fatalf("no %s envelope received", messageType)
	return nil
}

func TestServeHTTPSendsInitialState(t *testing.T) {
	f := newHubFixture(t)
	sessionId, token := f.seatPlayer(t, "", "alice")

	conn := f.dial(t, sessionId, "alice", token)

	envelope := readEnvelope(t, conn)
	assert.Equal(t, wire.TypeSessionState, envelope["type"])
	state := envelope["session"].(map[string]any)
	assert.Equal(t, string(sessionId), state["sessionId"])
}

func TestServeHTTPRequiresCredentials(t *testing.T) {
	f := newHubFixture(t)
	sessionId, token := f.seatPlayer(t, "", "alice")

	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{"missing token", f.wsURL(sessionId, "alice", ""), http.StatusUnauthorized},
		{"unknown session", f.wsURL("no-such-session", "alice", token), http.StatusGone},
		{"garbage token", f.wsURL(sessionId, "alice", "garbage"), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestServeHTTPRejectsForeignToken(t *testing.T) {
	f := newHubFixture(t)
	sessionId, _ := f.seatPlayer(t, "", "alice")
	otherSession, otherToken := f.seatPlayer(t, "", "bob")
	_ = otherSession

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(sessionId, "alice", otherToken), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The failed upgrade registered nothing.
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	assert.Empty(t, f.hub.sessionClients[sessionId])
}

func TestServeHTTPRejectsBannedPlayer(t *testing.T) {
	f := newHubFixture(t)
	sessionId, _ := f.seatPlayer(t, "", "alice")
	_, token := f.seatPlayer(t, sessionId, "mallory")
	_ = f.world.Update(func(data *types.StoreData) error {
		data.Sessions[sessionId].RoomBans["mallory"] = &types.BanRecord{PlayerId: "mallory", BannedAt: 1}
		return nil
	})

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(sessionId, "mallory", token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBroadcastReachesAllSessionClients(t *testing.T) {
	f := newHubFixture(t)
	sessionId, aliceToken := f.seatPlayer(t, "", "alice")
	_, bobToken := f.seatPlayer(t, sessionId, "bob")

	alice := f.dial(t, sessionId, "alice", aliceToken)
	bob := f.dial(t, sessionId, "bob", bobToken)
	readEnvelope(t, alice)
	readEnvelope(t, bob)

	f.hub.BroadcastToSession(sessionId, wire.NewError("test_code", "test_reason", false))

	for _, conn := range []*websocket.Conn{alice, bob} {
		envelope := readUntilType(t, conn, wire.TypeError)
		assert.Equal(t, "test_code", envelope["code"])
	}
}

func TestBroadcastSurvivesClientChurn(t *testing.T) {
	f := newHubFixture(t)
	sessionId, token := f.seatPlayer(t, "", "alice")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					f.hub.BroadcastToSession(sessionId, wire.NewError("churn", "churn", false))
				}
			}
		}()
	}

	// Sockets dropping mid-fanout must degrade to a close, never a panic.
	for i := 0; i < 50; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(sessionId, "alice", token), nil)
		require.NoError(t, err)
		conn.Close()
	}

	close(stop)
	wg.Wait()

	assert.Eventually(t, func() bool {
		f.hub.mu.Lock()
		defer f.hub.mu.Unlock()
		return len(f.hub.sessionClients[sessionId]) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRoomChannelChatFlow(t *testing.T) {
	f := newHubFixture(t)
	sessionId, aliceToken := f.seatPlayer(t, "", "alice")
	_, bobToken := f.seatPlayer(t, sessionId, "bob")

	alice := f.dial(t, sessionId, "alice", aliceToken)
	bob := f.dial(t, sessionId, "bob", bobToken)
	readEnvelope(t, alice)
	readEnvelope(t, bob)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":    wire.TypeRoomChannel,
		"content": "good luck!",
	}))

	envelope := readUntilType(t, bob, wire.TypeRoomChannel)
	assert.Equal(t, "alice", envelope["playerId"])
	assert.Equal(t, "good luck!", envelope["content"])
}

func TestRoomChannelBlockedContent(t *testing.T) {
	f := newHubFixture(t)
	sessionId, aliceToken := f.seatPlayer(t, "", "alice")

	alice := f.dial(t, sessionId, "alice", aliceToken)
	readEnvelope(t, alice)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":    wire.TypeRoomChannel,
		"content": "spamspamspam",
	}))

	envelope := readUntilType(t, alice, wire.TypeError)
	assert.Equal(t, types.ReasonRoomChannelMessageBlocked, envelope["code"])
}

func TestUnsupportedMessageType(t *testing.T) {
	f := newHubFixture(t)
	sessionId, token := f.seatPlayer(t, "", "alice")

	conn := f.dial(t, sessionId, "alice", token)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "telemetry"}))

	envelope := readUntilType(t, conn, wire.TypeError)
	assert.Equal(t, types.ReasonUnsupportedMessageType, envelope["code"])
}

func TestCloseSessionPlayerSockets(t *testing.T) {
	f := newHubFixture(t)
	sessionId, token := f.seatPlayer(t, "", "alice")

	conn := f.dial(t, sessionId, "alice", token)
	readEnvelope(t, conn)

	f.hub.CloseSessionPlayerSockets(sessionId, "alice", wire.CloseSessionExpired, "kicked")

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, wire.CloseSessionExpired, closeErr.Code)
	assert.Equal(t, "kicked", closeErr.Text)
}

func TestShutdownClosesClients(t *testing.T) {
	f := newHubFixture(t)
	sessionId, token := f.seatPlayer(t, "", "alice")

	conn := f.dial(t, sessionId, "alice", token)
	readEnvelope(t, conn)

	f.hub.Shutdown(context.Background())

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, wire.CloseNormal, closeErr.Code)
	assert.Equal(t, "server_shutdown", closeErr.Text)
}
