// Package socket is the realtime orchestrator: it authenticates upgrades,
// owns the client registries, routes inbound messages and fans out
// server-originated envelopes. Sockets hold only (sessionId, playerId)
// references into the store, never entity pointers.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/session"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// Config holds orchestrator tunables.
type Config struct {
	// SessionUpgradeGraceMs lets a socket revive a just-expired session.
	SessionUpgradeGraceMs int64
	// SendBufferSize is the per-client outbound queue depth.
	SendBufferSize int
	// WarningWindowMs is how far before turn expiry the warning fires.
	WarningWindowMs int64
	// HeartbeatStaleMs is the participant eviction threshold.
	HeartbeatStaleMs int64
}

// DefaultConfig returns production orchestrator tunables.
func DefaultConfig() Config {
	return Config{
		SessionUpgradeGraceMs: 15_000,
		SendBufferSize:        64,
		WarningWindowMs:       5_000,
		HeartbeatStaleMs:      90_000,
	}
}

// Client is one registered socket.
type Client struct {
	conn      *wire.Conn
	sessionId types.SessionIdType
	playerId  types.PlayerIdType

	send        chan []byte
	done        chan struct{}
	tokenExpiry *time.Timer
	closeOnce   sync.Once
	registered  bool
}

// Hub owns the socket registries and implements the SocketRelay capability.
type Hub struct {
	mu             sync.Mutex
	sessionClients map[types.SessionIdType]map[*Client]bool
	clientMeta     map[*wire.Conn]*Client

	world    *store.World
	sessions *session.Service
	conduct  types.ConductFilterRegistry
	cfg      Config
}

// NewHub wires the orchestrator. The session service's relay should be
// pointed at the returned hub.
func NewHub(world *store.World, sessions *session.Service, conduct types.ConductFilterRegistry, cfg Config) *Hub {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultConfig().SendBufferSize
	}
	if cfg.SessionUpgradeGraceMs <= 0 {
		cfg.SessionUpgradeGraceMs = DefaultConfig().SessionUpgradeGraceMs
	}
	if cfg.WarningWindowMs <= 0 {
		cfg.WarningWindowMs = DefaultConfig().WarningWindowMs
	}
	if cfg.HeartbeatStaleMs <= 0 {
		cfg.HeartbeatStaleMs = DefaultConfig().HeartbeatStaleMs
	}
	return &Hub{
		sessionClients: make(map[types.SessionIdType]map[*Client]bool),
		clientMeta:     make(map[*wire.Conn]*Client),
		world:          world,
		sessions:       sessions,
		conduct:        conduct,
		cfg:            cfg,
	}
}

// ServeHTTP authenticates and upgrades a WebSocket connection, then runs the
// client pumps until the socket dies.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionId := types.SessionIdType(r.URL.Query().Get("session"))
	playerId := types.PlayerIdType(r.URL.Query().Get("playerId"))
	token := r.URL.Query().Get("token")
	if sessionId == "" || playerId == "" || token == "" {
		http.Error(w, types.ReasonUnauthorized, http.StatusUnauthorized)
		return
	}

	status, reason := h.authenticateSocketUpgrade(ctx, sessionId, playerId, token)
	if status != 0 {
		http.Error(w, reason, status)
		return
	}

	conn, err := wire.Upgrade(w, r, wire.DefaultMaxMessageBytes)
	if err != nil {
		var handshakeErr *wire.HandshakeError
		if errors.As(err, &handshakeErr) {
			http.Error(w, handshakeErr.Message, handshakeErr.Status)
		} else {
			logging.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		}
		return
	}

	client := &Client{
		conn:      conn,
		sessionId: sessionId,
		playerId:  playerId,
		send:      make(chan []byte, h.cfg.SendBufferSize),
		done:      make(chan struct{}),
	}
	h.register(client)
	defer h.unregister(client, "connection_closed")

	go client.writePump()
	h.readPump(client)
}

// authenticateSocketUpgrade resolves the session and authorizes the token,
// with one rehydrate retry on each. A zero status means authorized.
func (h *Hub) authenticateSocketUpgrade(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, token string) (int, string) {
	now := h.world.NowMs()

	live := h.world.GetSession(sessionId)
	if live == nil {
		live = h.world.RehydrateSessionWithRetry(ctx, sessionId, "ws_upgrade", store.ProfileSessionFast)
	}
	if live == nil {
		return http.StatusGone, types.ReasonSessionExpired
	}
	if !live.IsAlive(now) {
		if now-live.ExpiresAt > h.cfg.SessionUpgradeGraceMs {
			return http.StatusGone, types.ReasonSessionExpired
		}
		h.reviveSession(ctx, sessionId, playerId, now)
	}
	if _, banned := live.RoomBans[playerId]; banned {
		return http.StatusForbidden, types.ReasonRoomBanned
	}

	reason := h.world.AuthorizeSessionToken(sessionId, playerId, token, types.TokenKindAccess)
	if reason == types.ReasonTokenNotFound {
		h.world.RehydrateSessionParticipantWithRetry(ctx, sessionId, playerId, "ws_token", store.ProfileAuthRecovery)
		reason = h.world.AuthorizeSessionToken(sessionId, playerId, token, types.TokenKindAccess)
	}
	switch reason {
	case "":
	case types.ReasonSessionTokenMismatch:
		return http.StatusForbidden, reason
	default:
		return http.StatusUnauthorized, reason
	}
	return 0, ""
}

// reviveSession extends a session found inside the upgrade grace window.
func (h *Hub) reviveSession(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, now int64) {
	_ = h.world.Update(func(data *types.StoreData) error {
		live, okSession := data.Sessions[sessionId]
		if !okSession {
			return nil
		}
		live.ExpiresAt = now + h.sessions.Config().IdleTtlMs
		live.LastActivityAt = now
		if p, okP := live.Participants[playerId]; okP {
			p.LastHeartbeatAt = now
		}
		return nil
	})
	h.world.PersistStore(ctx)
	logging.Info(ctx, "session revived on upgrade",
		zap.String("session_id", string(sessionId)), zap.String("player_id", string(playerId)))
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	set, okSet := h.sessionClients[client.sessionId]
	if !okSet {
		set = make(map[*Client]bool)
		h.sessionClients[client.sessionId] = set
	}
	set[client] = true
	h.clientMeta[client.conn] = client
	client.registered = true
	h.mu.Unlock()

	metrics.IncConnection()
	h.armTokenExpiry(client)

	// Fresh connections get the current session snapshot immediately.
	if snapshot := h.world.GetSession(client.sessionId); snapshot != nil {
		h.SendToSessionPlayer(client.sessionId, client.playerId, wire.NewSessionState(snapshot))
	}
}

// armTokenExpiry installs the one-shot timer that tears the socket down when
// the access token lapses.
func (h *Hub) armTokenExpiry(client *Client) {
	var expiresAt int64
	h.world.View(func(data *types.StoreData) {
		for _, t := range data.AuthTokens {
			if t.SessionId == client.sessionId && t.PlayerId == client.playerId &&
				t.Kind == types.TokenKindAccess && t.RevokedAt == 0 && t.ExpiresAt > expiresAt {
				expiresAt = t.ExpiresAt
			}
		}
	})
	if expiresAt == 0 {
		return
	}
	delay := expiresAt - h.world.NowMs()
	if delay < 0 {
		delay = 0
	}
	client.tokenExpiry = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		h.enqueue(client, wire.NewError(types.ReasonSessionExpired, types.ReasonSessionExpired, false))
		h.safeCloseSocket(client, wire.CloseUnauthorized, types.ReasonSessionExpired)
	})
}

// unregister removes the client from both registries. The participant's
// lastHeartbeatAt is left untouched: the heartbeat sweep owns eviction.
func (h *Hub) unregister(client *Client, reason string) {
	h.mu.Lock()
	wasRegistered := client.registered
	client.registered = false
	if set, okSet := h.sessionClients[client.sessionId]; okSet {
		delete(set, client)
		if len(set) == 0 {
			delete(h.sessionClients, client.sessionId)
		}
	}
	delete(h.clientMeta, client.conn)
	h.mu.Unlock()

	if !wasRegistered {
		return
	}
	if client.tokenExpiry != nil {
		client.tokenExpiry.Stop()
	}
	// The send channel is never closed: concurrent fanout may still hold a
	// reference. The done signal is what stops the writePump.
	client.closeOnce.Do(func() {
		close(client.done)
	})
	_ = client.conn.Close()
	metrics.DecConnection()
	logging.Info(context.Background(), "socket unregistered",
		zap.String("session_id", string(client.sessionId)),
		zap.String("player_id", string(client.playerId)),
		zap.String("reason", reason))
}

// safeCloseSocket sends a close frame then unregisters. Safe to call from
// any goroutine and more than once.
func (h *Hub) safeCloseSocket(client *Client, code int, reason string) {
	_ = client.conn.CloseWithReason(code, reason)
	h.unregister(client, reason)
}

// Shutdown closes every registered socket with a normal close frame.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clientMeta))
	for _, client := range h.clientMeta {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.safeCloseSocket(client, wire.CloseNormal, "server_shutdown")
	}
	logging.Info(ctx, "socket hub shut down", zap.Int("closed", len(clients)))
}

// snapshotSessionClients copies the client set for lock-free fanout.
func (h *Hub) snapshotSessionClients(sessionId types.SessionIdType) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessionClients[sessionId]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// enqueue marshals and queues one message; a full queue or torn-down client
// counts as a send failure.
func (h *Hub) enqueue(client *Client, message any) bool {
	raw, err := json.Marshal(message)
	if err != nil {
		logging.Error(context.Background(), "marshal outbound message failed", zap.Error(err))
		return false
	}
	h.mu.Lock()
	registered := client.registered
	h.mu.Unlock()
	if !registered {
		return false
	}
	select {
	case <-client.done:
		return false
	case client.send <- raw:
		return true
	default:
		return false
	}
}

// --- SocketRelay ---

// BroadcastToSession fans a message out to every live socket in the session,
// the acting player's own sockets included: all clients consume the same
// ordered stream of server envelopes. Sender exclusion exists only on the
// chat path (BroadcastRoomChannelToSession).
func (h *Hub) BroadcastToSession(sessionId types.SessionIdType, message any) {
	for _, client := range h.snapshotSessionClients(sessionId) {
		if !h.enqueue(client, message) {
			h.safeCloseSocket(client, wire.CloseInternalError, "send_failed")
		}
	}
}

// SendToSessionPlayer targets every socket of one (sessionId, playerId).
func (h *Hub) SendToSessionPlayer(sessionId types.SessionIdType, playerId types.PlayerIdType, message any) {
	for _, client := range h.snapshotSessionClients(sessionId) {
		if client.playerId != playerId {
			continue
		}
		if !h.enqueue(client, message) {
			h.safeCloseSocket(client, wire.CloseInternalError, "send_failed")
		}
	}
}

// BroadcastRoomChannelToSession fans chat out, skipping the sender and any
// recipient with a block relationship against the sender in either
// direction.
func (h *Hub) BroadcastRoomChannelToSession(sessionId types.SessionIdType, sender types.PlayerIdType, message any) {
	live := h.world.GetSession(sessionId)
	for _, client := range h.snapshotSessionClients(sessionId) {
		if client.playerId == sender {
			continue
		}
		if live != nil && blockedEitherWay(live, sender, client.playerId) {
			continue
		}
		if !h.enqueue(client, message) {
			h.safeCloseSocket(client, wire.CloseInternalError, "send_failed")
		}
	}
}

// CloseSessionPlayerSockets closes every socket of one participant.
func (h *Hub) CloseSessionPlayerSockets(sessionId types.SessionIdType, playerId types.PlayerIdType, code int, reason string) {
	for _, client := range h.snapshotSessionClients(sessionId) {
		if client.playerId == playerId {
			h.safeCloseSocket(client, code, reason)
		}
	}
}

func blockedEitherWay(live *types.Session, a, b types.PlayerIdType) bool {
	pa, okA := live.Participants[a]
	pb, okB := live.Participants[b]
	if okA && pa.IsBlocking(b) {
		return true
	}
	if okB && pb.IsBlocking(a) {
		return true
	}
	return false
}
