package session

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/game"
	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// roomCodeAlphabet omits ambiguous glyphs (0/O, 1/I).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	roomCodeLength   = 6
	roomCodeAttempts = 20
)

var errRoomCodeExhausted = errors.New("room code allocation exhausted")

// allocateRoomCode picks a code unique among alive sessions.
func allocateRoomCode(data *types.StoreData, now int64) (string, error) {
	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		code := make([]byte, roomCodeLength)
		for i := range code {
			code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
		}
		if !roomCodeInUse(data, string(code), now) {
			return string(code), nil
		}
	}
	return "", errRoomCodeExhausted
}

func roomCodeInUse(data *types.StoreData, code string, now int64) bool {
	for _, s := range data.Sessions {
		if s.RoomCode == code && s.IsAlive(now) {
			return true
		}
	}
	return false
}

// newSession builds an empty session shell with the configured idle TTL.
func (s *Service) newSession(kind types.RoomKind, code string, now int64) *types.Session {
	return &types.Session{
		SessionId:      types.SessionIdType(uuid.NewString()),
		RoomCode:       code,
		RoomKind:       kind,
		GameDifficulty: types.DifficultyNormal,
		GameConfig:     types.DefaultGameConfig(),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now + s.cfg.IdleTtlMs,
		Participants:   make(map[types.PlayerIdType]*types.Participant),
		ChatConduct:    types.NewChatConductState(),
		RoomBans:       make(map[types.PlayerIdType]*types.BanRecord),
	}
}

// --- Requests ---

// CreateSessionRequest is the POST /sessions body.
type CreateSessionRequest struct {
	PlayerId       string            `json:"playerId"`
	RoomCode       string            `json:"roomCode,omitempty"`
	DisplayName    string            `json:"displayName,omitempty"`
	AvatarUrl      string            `json:"avatarUrl,omitempty"`
	ProviderId     string            `json:"providerId,omitempty"`
	BotCount       int               `json:"botCount,omitempty"`
	GameDifficulty string            `json:"gameDifficulty,omitempty"`
	DemoMode       bool              `json:"demoMode,omitempty"`
	DemoAutoRun    bool              `json:"demoAutoRun,omitempty"`
	DemoSpeedMode  bool              `json:"demoSpeedMode,omitempty"`
	GameConfig     *types.GameConfig `json:"gameConfig,omitempty"`
}

// JoinSessionRequest is the POST /sessions/:id/join body.
type JoinSessionRequest struct {
	PlayerId         string   `json:"playerId"`
	DisplayName      string   `json:"displayName,omitempty"`
	AvatarUrl        string   `json:"avatarUrl,omitempty"`
	ProviderId       string   `json:"providerId,omitempty"`
	BlockedPlayerIds []string `json:"blockedPlayerIds,omitempty"`
	BotCount         int      `json:"botCount,omitempty"`
}

// JoinTarget addresses a session by id or by room code.
type JoinTarget struct {
	SessionId types.SessionIdType
	RoomCode  string
}

// --- Operations ---

// ListRooms reconciles the public inventory and returns joinable rooms.
func (s *Service) ListRooms(ctx context.Context, rawLimit string) Result {
	limit := s.cfg.RoomsDefaultLimit
	if rawLimit != "" {
		if n, err := strconv.Atoi(rawLimit); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > s.cfg.RoomsMaxLimit {
		limit = s.cfg.RoomsMaxLimit
	}

	now := s.world.NowMs()
	var rooms []*types.Session
	_ = s.world.Update(func(data *types.StoreData) error {
		s.reconcilePublicInventory(data, now)
		for _, session := range data.Sessions {
			if session.IsPublic() && session.IsAlive(now) && !session.SessionComplete {
				rooms = append(rooms, session.Clone())
			}
		}
		return nil
	})

	sort.Slice(rooms, func(i, j int) bool {
		pi, pj := roomPriority(rooms[i].RoomKind), roomPriority(rooms[j].RoomKind)
		if pi != pj {
			return pi < pj
		}
		if a, b := rooms[i].ActiveHumanCount(), rooms[j].ActiveHumanCount(); a != b {
			return a > b
		}
		if a, b := rooms[i].HumanCount(), rooms[j].HumanCount(); a != b {
			return a > b
		}
		return rooms[i].LastActivityAt > rooms[j].LastActivityAt
	})
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}

	summaries := make([]map[string]any, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, map[string]any{
			"sessionId":        string(r.SessionId),
			"roomCode":         r.RoomCode,
			"roomKind":         string(r.RoomKind),
			"gameDifficulty":   string(r.GameDifficulty),
			"humanCount":       r.HumanCount(),
			"activeHumanCount": r.ActiveHumanCount(),
			"maxHumanPlayers":  s.cfg.MaxHumanPlayers,
			"lastActivityAt":   r.LastActivityAt,
		})
	}
	return ok(map[string]any{"rooms": summaries, "timestamp": now})
}

func roomPriority(kind types.RoomKind) int {
	if kind == types.RoomKindPublicDefault {
		return 0
	}
	return 1
}

// CreateSession creates a private room owned by the requesting player.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) Result {
	playerId := types.PlayerIdType(req.PlayerId)
	if playerId == "" {
		return fail(http.StatusBadRequest, types.ReasonInvalidPlayerId)
	}

	now := s.world.NowMs()
	var (
		created    *types.Session
		codeTaken  bool
		allocError bool
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		code := req.RoomCode
		if code != "" {
			if roomCodeInUse(data, code, now) {
				codeTaken = true
				return nil
			}
		} else {
			allocated, err := allocateRoomCode(data, now)
			if err != nil {
				allocError = true
				return nil
			}
			code = allocated
		}

		session := s.newSession(types.RoomKindPrivate, code, now)
		session.OwnerPlayerId = playerId
		session.DemoMode = req.DemoMode
		session.DemoAutoRun = req.DemoAutoRun
		session.DemoSpeedMode = req.DemoSpeedMode
		if d := normalizeDifficulty(req.GameDifficulty); d != "" {
			session.GameDifficulty = d
		}
		if req.GameConfig != nil {
			session.GameConfig = normalizeGameConfig(*req.GameConfig)
		}

		session.Participants[playerId] = s.newHumanParticipant(playerId, req.DisplayName, req.AvatarUrl, req.ProviderId, nil, session.GameConfig, now)
		s.seedBots(session, req.BotCount, now)
		upsertPlayerRecord(data, playerId, req.DisplayName, req.AvatarUrl, req.ProviderId, now)

		game.EnsureSessionTurnState(session, now)
		data.Sessions[session.SessionId] = session
		created = session.Clone()
		metrics.ActiveSessions.Inc()
		metrics.SessionParticipants.WithLabelValues(string(session.SessionId)).Set(float64(len(session.Participants)))
		return nil
	})

	if codeTaken {
		return fail(http.StatusConflict, types.ReasonRoomCodeTaken)
	}
	if allocError {
		return fail(http.StatusInternalServerError, types.ReasonRoomNotFound)
	}

	bundle, err := s.world.IssueSessionTokens(created.SessionId, playerId)
	if err != nil {
		logging.Error(ctx, "token mint failed", zap.Error(err))
		return fail(http.StatusInternalServerError, types.ReasonUnauthorized)
	}
	s.world.PersistStore(ctx)

	logging.Info(ctx, "session created",
		zap.String("session_id", string(created.SessionId)),
		zap.String("room_code", created.RoomCode),
		zap.String("player_id", string(playerId)))
	return ok(map[string]any{"session": created, "auth": bundle})
}

// JoinSessionByTarget joins by session id or room code, rehydrating once on a
// cache miss.
func (s *Service) JoinSessionByTarget(ctx context.Context, target JoinTarget, req JoinSessionRequest) Result {
	playerId := types.PlayerIdType(req.PlayerId)
	if playerId == "" {
		return fail(http.StatusBadRequest, types.ReasonInvalidPlayerId)
	}

	sessionId := target.SessionId
	if sessionId == "" && target.RoomCode != "" {
		if found := s.world.GetSessionByRoomCode(target.RoomCode); found != nil {
			sessionId = found.SessionId
		} else {
			return fail(http.StatusNotFound, types.ReasonRoomNotFound)
		}
	}
	if resolved := s.world.RehydrateSessionWithRetry(ctx, sessionId, "join", store.ProfileSessionStandard); resolved == nil {
		return fail(http.StatusGone, types.ReasonSessionExpired)
	}

	now := s.world.NowMs()
	var (
		banned   bool
		roomFull bool
		expired  bool
		snapshot *types.Session
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession || !session.IsAlive(now) {
			expired = true
			return nil
		}
		if _, isBanned := session.RoomBans[playerId]; isBanned {
			banned = true
			return nil
		}

		existing, isMember := session.Participants[playerId]
		if !isMember && session.HumanCount() >= s.cfg.MaxHumanPlayers {
			roomFull = true
			return nil
		}

		if isMember {
			existing.DisplayName = types.DisplayNameType(req.DisplayName)
			existing.AvatarUrl = req.AvatarUrl
			existing.ProviderId = req.ProviderId
			existing.LastHeartbeatAt = now
			existing.BlockedPlayerIds = blockedSet(req.BlockedPlayerIds)
		} else {
			session.Participants[playerId] = s.newHumanParticipant(playerId, req.DisplayName, req.AvatarUrl, req.ProviderId, req.BlockedPlayerIds, session.GameConfig, now)
			s.seedBots(session, req.BotCount, now)
		}
		upsertPlayerRecord(data, playerId, req.DisplayName, req.AvatarUrl, req.ProviderId, now)

		session.LastActivityAt = now
		session.ExpiresAt = now + s.cfg.IdleTtlMs
		game.EnsureSessionTurnState(session, now)
		snapshot = session.Clone()
		metrics.SessionParticipants.WithLabelValues(string(session.SessionId)).Set(float64(len(session.Participants)))
		return nil
	})

	if expired {
		return fail(http.StatusGone, types.ReasonSessionExpired)
	}
	if banned {
		return fail(http.StatusForbidden, types.ReasonRoomBanned)
	}
	if roomFull {
		return fail(http.StatusConflict, types.ReasonRoomFull)
	}

	bundle, err := s.world.IssueSessionTokens(sessionId, playerId)
	if err != nil {
		logging.Error(ctx, "token mint failed", zap.Error(err))
		return fail(http.StatusInternalServerError, types.ReasonUnauthorized)
	}

	s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	s.world.PersistStore(ctx)
	return ok(map[string]any{"session": snapshot, "auth": bundle})
}

// LeaveSession removes the participant. Leaving twice, or leaving an unknown
// session, still reports ok.
func (s *Service) LeaveSession(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType) Result {
	if sessionId == "" || playerId == "" {
		return ok(map[string]any{"ok": true})
	}
	if resolved := s.world.RehydrateSessionWithRetry(ctx, sessionId, "leave", store.ProfileSessionLeave); resolved == nil {
		return ok(map[string]any{"ok": true})
	}
	inventoryChanged := s.RemoveParticipantFromSession(ctx, sessionId, playerId, RemoveOptions{
		Source:       RemoveSourceLeave,
		SocketReason: "left_session",
	})
	return ok(map[string]any{"ok": true, "roomInventoryChanged": inventoryChanged})
}

// Heartbeat refreshes the participant's liveness and the session TTL.
func (s *Service) Heartbeat(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, token string) Result {
	if reason := s.authorizeWithRecovery(ctx, sessionId, playerId, token, types.TokenKindAccess); reason != "" {
		return fail(http.StatusUnauthorized, reason)
	}

	now := s.world.NowMs()
	found := false
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession {
			return nil
		}
		p, okP := session.Participants[playerId]
		if !okP {
			return nil
		}
		found = true
		p.LastHeartbeatAt = now
		session.LastActivityAt = now
		session.ExpiresAt = now + s.cfg.IdleTtlMs
		return nil
	})
	if !found {
		return fail(http.StatusUnauthorized, types.ReasonUnknownPlayer)
	}
	s.world.PersistStore(ctx)
	return ok(map[string]any{"ok": true})
}

// SetParticipantState handles sit/stand/ready/unready seat transitions.
func (s *Service) SetParticipantState(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, action string) Result {
	now := s.world.NowMs()

	var (
		snapshot   *types.Session
		turnStart  *wire.TurnStartMessage
		badAction  bool
		notSeated  bool
		notFound   bool
		flowBegins bool
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession {
			notFound = true
			return nil
		}
		p, okP := session.Participants[playerId]
		if !okP {
			notFound = true
			return nil
		}

		wasRunning := session.TurnState != nil && session.TurnState.TurnExpiresAt > 0
		switch action {
		case "sit":
			p.IsSeated = true
			if p.RemainingDice == 0 && !p.IsComplete {
				p.RemainingDice = session.GameConfig.DiceCount
			}
		case "stand":
			p.IsSeated = false
			p.IsReady = false
		case "ready":
			if !p.IsSeated {
				notSeated = true
				return nil
			}
			p.IsReady = true
		case "unready":
			p.IsReady = false
		default:
			badAction = true
			return nil
		}

		session.LastActivityAt = now
		game.EnsureSessionTurnState(session, now)

		nowRunning := session.TurnState.TurnExpiresAt > 0
		if !wasRunning && nowRunning {
			flowBegins = true
			if session.GameStartedAt == 0 {
				session.GameStartedAt = now
			}
			turnStart = game.BuildTurnStartMessage(session)
		}
		snapshot = session.Clone()
		return nil
	})

	if notFound {
		return fail(http.StatusNotFound, types.ReasonUnknownSession)
	}
	if badAction {
		return fail(http.StatusBadRequest, types.ReasonInvalidAction)
	}
	if notSeated {
		return fail(http.StatusConflict, types.ReasonNotSeated)
	}

	if flowBegins && turnStart != nil {
		s.relay.BroadcastToSession(sessionId, turnStart)
	}
	s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	s.world.PersistStore(ctx)
	return ok(map[string]any{"session": snapshot})
}

// DemoControls adjusts demo auto-run and speed. Owner-only, private rooms
// only.
func (s *Service) DemoControls(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, action string) Result {
	now := s.world.NowMs()

	var (
		notFound   bool
		notPrivate bool
		notOwner   bool
		badAction  bool
		snapshot   *types.Session
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession {
			notFound = true
			return nil
		}
		if session.RoomKind != types.RoomKindPrivate {
			notPrivate = true
			return nil
		}
		if session.OwnerPlayerId != playerId {
			notOwner = true
			return nil
		}
		switch action {
		case "pause":
			session.DemoAutoRun = false
		case "resume":
			session.DemoAutoRun = true
		case "speed_fast":
			session.DemoSpeedMode = true
		case "speed_normal":
			session.DemoSpeedMode = false
		default:
			badAction = true
			return nil
		}
		session.LastActivityAt = now
		game.EnsureSessionTurnState(session, now)
		snapshot = session.Clone()
		return nil
	})

	if notFound {
		return fail(http.StatusNotFound, types.ReasonUnknownSession)
	}
	if notPrivate {
		return fail(http.StatusConflict, types.ReasonRoomNotPrivate)
	}
	if notOwner {
		return fail(http.StatusForbidden, types.ReasonNotRoomOwner)
	}
	if badAction {
		return fail(http.StatusBadRequest, types.ReasonInvalidAction)
	}

	s.relay.BroadcastToSession(sessionId, wire.NewSessionState(snapshot))
	s.world.PersistStore(ctx)
	return ok(map[string]any{
		"controls": map[string]any{
			"demoMode":      snapshot.DemoMode,
			"demoAutoRun":   snapshot.DemoAutoRun,
			"demoSpeedMode": snapshot.DemoSpeedMode,
		},
		"session": snapshot,
	})
}

// QueueParticipantForNextGame flags a seated participant for the next round.
// Pre-round-completion and unseated calls report their reason with a 200.
func (s *Service) QueueParticipantForNextGame(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, token string) Result {
	if reason := s.authorizeWithRecovery(ctx, sessionId, playerId, token, types.TokenKindAccess); reason != "" {
		return fail(http.StatusUnauthorized, reason)
	}

	now := s.world.NowMs()
	var (
		notFound bool
		reason   string
		snapshot *types.Session
	)
	_ = s.world.Update(func(data *types.StoreData) error {
		session, okSession := data.Sessions[sessionId]
		if !okSession {
			notFound = true
			return nil
		}
		p, okP := session.Participants[playerId]
		if !okP {
			notFound = true
			return nil
		}

		p.LastHeartbeatAt = now
		session.LastActivityAt = now
		if !session.SessionComplete {
			reason = types.ReasonRoundInProgress
			snapshot = session.Clone()
			return nil
		}
		if !p.IsSeated {
			reason = types.ReasonNotSeated
			snapshot = session.Clone()
			return nil
		}
		p.QueuedForNextGame = true
		game.EnsureSessionTurnState(session, now)
		snapshot = session.Clone()
		return nil
	})

	if notFound {
		return fail(http.StatusNotFound, types.ReasonUnknownSession)
	}
	s.world.PersistStore(ctx)
	if reason != "" {
		return ok(map[string]any{"queuedForNextGame": false, "reason": reason, "session": snapshot})
	}
	return ok(map[string]any{"queuedForNextGame": true, "session": snapshot})
}

// RefreshSessionAuth rotates the token pair for a live membership.
func (s *Service) RefreshSessionAuth(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, refreshToken string) Result {
	session, participant := s.world.RehydrateSessionParticipantWithRetry(ctx, sessionId, playerId, "refresh_auth", store.ProfileSessionRefreshAuth)
	if session == nil || participant == nil {
		return fail(http.StatusGone, types.ReasonSessionExpired)
	}
	if reason := s.authorizeWithRecovery(ctx, sessionId, playerId, refreshToken, types.TokenKindRefresh); reason != "" {
		return fail(http.StatusUnauthorized, reason)
	}

	now := s.world.NowMs()
	_ = s.world.Update(func(data *types.StoreData) error {
		if live, okSession := data.Sessions[sessionId]; okSession {
			if p, okP := live.Participants[playerId]; okP {
				p.LastHeartbeatAt = now
			}
			live.LastActivityAt = now
			live.ExpiresAt = now + s.cfg.IdleTtlMs
		}
		return nil
	})

	bundle, err := s.world.IssueSessionTokens(sessionId, playerId)
	if err != nil {
		logging.Error(ctx, "token mint failed", zap.Error(err))
		return fail(http.StatusInternalServerError, types.ReasonUnauthorized)
	}
	s.world.PersistStore(ctx)
	return ok(map[string]any{"session": s.world.GetSession(sessionId), "auth": bundle})
}

// authorizeWithRecovery runs the standard rehydrate-then-re-authorize
// pattern: a token_not_found or session_token_mismatch triggers one
// participant rehydrate before the final verdict.
func (s *Service) authorizeWithRecovery(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, token string, kind types.TokenKind) string {
	reason := s.world.AuthorizeSessionToken(sessionId, playerId, token, kind)
	if reason != types.ReasonTokenNotFound && reason != types.ReasonSessionTokenMismatch {
		return reason
	}
	s.world.RehydrateSessionParticipantWithRetry(ctx, sessionId, playerId, "auth_recovery", store.ProfileAuthRecovery)
	return s.world.AuthorizeSessionToken(sessionId, playerId, token, kind)
}

// --- Participant construction helpers ---

func (s *Service) newHumanParticipant(playerId types.PlayerIdType, displayName, avatarUrl, providerId string, blocked []string, cfg types.GameConfig, now int64) *types.Participant {
	return &types.Participant{
		PlayerId:         playerId,
		DisplayName:      types.DisplayNameType(displayName),
		AvatarUrl:        avatarUrl,
		ProviderId:       providerId,
		RemainingDice:    cfg.DiceCount,
		JoinedAt:         now,
		LastHeartbeatAt:  now,
		BlockedPlayerIds: blockedSet(blocked),
	}
}

// seedBots tops the session up to the requested bot count.
func (s *Service) seedBots(session *types.Session, requested int, now int64) {
	if requested <= 0 {
		return
	}
	if requested > s.cfg.MaxBots {
		requested = s.cfg.MaxBots
	}
	existing := 0
	for _, p := range session.Participants {
		if p.IsBot {
			existing++
		}
	}
	for i := existing; i < requested; i++ {
		id := types.PlayerIdType("bot-" + strconv.Itoa(i+1))
		if _, taken := session.Participants[id]; taken {
			continue
		}
		session.Participants[id] = &types.Participant{
			PlayerId:        id,
			DisplayName:     types.DisplayNameType("Bot " + strconv.Itoa(i+1)),
			IsBot:           true,
			BotProfile:      "greedy",
			IsSeated:        true,
			IsReady:         true,
			RemainingDice:   session.GameConfig.DiceCount,
			JoinedAt:        now,
			LastHeartbeatAt: now,
		}
	}
}

func blockedSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}

func upsertPlayerRecord(data *types.StoreData, playerId types.PlayerIdType, displayName, avatarUrl, providerId string, now int64) {
	player, okPlayer := data.Players[playerId]
	if !okPlayer {
		player = &types.Player{Uid: playerId}
		data.Players[playerId] = player
	}
	if displayName != "" {
		player.DisplayName = displayName
	}
	if avatarUrl != "" {
		player.AvatarUrl = avatarUrl
	}
	if providerId != "" {
		player.ProviderId = providerId
	}
	player.UpdatedAt = now
}

func normalizeDifficulty(raw string) types.GameDifficulty {
	switch types.GameDifficulty(raw) {
	case types.DifficultyEasy, types.DifficultyNormal, types.DifficultyHard:
		return types.GameDifficulty(raw)
	}
	return ""
}

func normalizeGameConfig(cfg types.GameConfig) types.GameConfig {
	def := types.DefaultGameConfig()
	if cfg.DiceCount <= 0 || cfg.DiceCount > 12 {
		cfg.DiceCount = def.DiceCount
	}
	if cfg.DieSides < 2 || cfg.DieSides > 20 {
		cfg.DieSides = def.DieSides
	}
	if cfg.TurnTimeoutMs <= 0 {
		cfg.TurnTimeoutMs = def.TurnTimeoutMs
	}
	if cfg.TargetScore < 0 {
		cfg.TargetScore = 0
	}
	return cfg
}
