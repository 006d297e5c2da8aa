package types

import "errors"

// --- Core Domain Types ---

// PlayerIdType represents a unique identifier for a player.
type PlayerIdType string

// SessionIdType represents a unique identifier for a game session.
type SessionIdType string

// DisplayNameType represents the human-readable name for a player.
type DisplayNameType string

// RoomKind classifies a session's visibility and lifecycle policy.
type RoomKind string

const (
	RoomKindPrivate        RoomKind = "private"
	RoomKindPublicDefault  RoomKind = "public_default"
	RoomKindPublicOverflow RoomKind = "public_overflow"
)

// GameDifficulty selects the difficulty preset for a session.
type GameDifficulty string

const (
	DifficultyEasy   GameDifficulty = "easy"
	DifficultyNormal GameDifficulty = "normal"
	DifficultyHard   GameDifficulty = "hard"
)

// TurnPhase is the stage within a single participant's turn.
type TurnPhase string

const (
	PhaseAwaitRoll  TurnPhase = "await_roll"
	PhaseAwaitScore TurnPhase = "await_score"
	PhaseReadyToEnd TurnPhase = "ready_to_end"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// AdminRole is the resolved admin privilege level for a player.
type AdminRole string

const (
	AdminRoleViewer   AdminRole = "viewer"
	AdminRoleOperator AdminRole = "operator"
	AdminRoleOwner    AdminRole = "owner"
)

// GameConfig holds the per-session game tunables.
type GameConfig struct {
	DiceCount     int   `json:"diceCount"`
	DieSides      int   `json:"dieSides"`
	TurnTimeoutMs int64 `json:"turnTimeoutMs"`
	TargetScore   int   `json:"targetScore,omitempty"`
}

// DefaultGameConfig returns the standard six-dice configuration.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		DiceCount:     6,
		DieSides:      6,
		TurnTimeoutMs: 20_000,
	}
}

// Player is the durable per-identity record, created on first session join or
// first admin-role assignment and never explicitly destroyed.
type Player struct {
	Uid                PlayerIdType `json:"uid"`
	DisplayName        string       `json:"displayName,omitempty"`
	Email              string       `json:"email,omitempty"`
	AvatarUrl          string       `json:"avatarUrl,omitempty"`
	ProviderId         string       `json:"providerId,omitempty"`
	AdminRole          AdminRole    `json:"adminRole,omitempty"`
	AdminRoleUpdatedAt int64        `json:"adminRoleUpdatedAt,omitempty"`
	AdminRoleUpdatedBy PlayerIdType `json:"adminRoleUpdatedBy,omitempty"`
	UpdatedAt          int64        `json:"updatedAt"`
}

// Participant is a human or bot seat within a session.
type Participant struct {
	PlayerId          PlayerIdType    `json:"playerId"`
	DisplayName       DisplayNameType `json:"displayName,omitempty"`
	AvatarUrl         string          `json:"avatarUrl,omitempty"`
	ProviderId        string          `json:"providerId,omitempty"`
	IsBot             bool            `json:"isBot"`
	BotProfile        string          `json:"botProfile,omitempty"`
	IsSeated          bool            `json:"isSeated"`
	IsReady           bool            `json:"isReady"`
	QueuedForNextGame bool            `json:"queuedForNextGame"`
	Score             int             `json:"score"`
	RemainingDice     int             `json:"remainingDice"`
	IsComplete        bool            `json:"isComplete"`
	CompletedAt       int64           `json:"completedAt,omitempty"`
	JoinedAt          int64           `json:"joinedAt"`
	LastHeartbeatAt   int64           `json:"lastHeartbeatAt"`
	TurnTimeoutRound  int             `json:"turnTimeoutRound,omitempty"`
	TurnTimeoutCount  int             `json:"turnTimeoutCount"`
	BlockedPlayerIds  map[string]bool `json:"blockedPlayerIds,omitempty"`
}

// IsBlocking reports whether this participant has blocked the given player.
func (p *Participant) IsBlocking(other PlayerIdType) bool {
	return p.BlockedPlayerIds[string(other)]
}

// Die is a single die within a roll snapshot.
type Die struct {
	DieId string `json:"dieId"`
	Sides int    `json:"sides"`
	Value int    `json:"value"`
}

// RollSnapshot is the immutable record of a single roll.
type RollSnapshot struct {
	RollIndex    int    `json:"rollIndex"`
	ServerRollId string `json:"serverRollId"`
	Dice         []Die  `json:"dice"`
}

// Die looks up a die in the snapshot by id.
func (r *RollSnapshot) Die(dieId string) (Die, bool) {
	for _, d := range r.Dice {
		if d.DieId == dieId {
			return d, true
		}
	}
	return Die{}, false
}

// ScoreSummary is the immutable record of a scored selection, paired with its
// roll snapshot by ServerRollId.
type ScoreSummary struct {
	SelectedDiceIds     []string `json:"selectedDiceIds"`
	Points              int      `json:"points"`
	RollServerId        string   `json:"rollServerId"`
	ProjectedTotalScore int      `json:"projectedTotalScore"`
	RemainingDice       int      `json:"remainingDice"`
	IsComplete          bool     `json:"isComplete"`
}

// TurnState is the per-session turn machine state.
type TurnState struct {
	Order              []PlayerIdType `json:"order"`
	ActiveTurnPlayerId PlayerIdType   `json:"activeTurnPlayerId,omitempty"`
	Round              int            `json:"round"`
	TurnNumber         int            `json:"turnNumber"`
	Phase              TurnPhase      `json:"phase"`
	LastRollSnapshot   *RollSnapshot  `json:"lastRollSnapshot,omitempty"`
	LastScoreSummary   *ScoreSummary  `json:"lastScoreSummary,omitempty"`
	TurnTimeoutMs      int64          `json:"turnTimeoutMs"`
	TurnExpiresAt      int64          `json:"turnExpiresAt,omitempty"`
	UpdatedAt          int64          `json:"updatedAt"`
}

// ConductPlayerState tracks chat-conduct strikes for one player in a session.
type ConductPlayerState struct {
	StrikeEvents    []int64 `json:"strikeEvents"`
	TotalStrikes    int     `json:"totalStrikes"`
	LastViolationAt int64   `json:"lastViolationAt,omitempty"`
	MutedUntil      int64   `json:"mutedUntil,omitempty"`
}

// ChatConductState holds per-player conduct records for a session.
type ChatConductState struct {
	Players map[PlayerIdType]*ConductPlayerState `json:"players"`
}

// NewChatConductState returns an empty conduct state.
func NewChatConductState() *ChatConductState {
	return &ChatConductState{Players: make(map[PlayerIdType]*ConductPlayerState)}
}

// BanRecord is a room-level moderation ban.
type BanRecord struct {
	PlayerId PlayerIdType `json:"playerId"`
	BannedBy PlayerIdType `json:"bannedBy"`
	Source   string       `json:"source"`
	Reason   string       `json:"reason,omitempty"`
	BannedAt int64        `json:"bannedAt"`
}

// Session is one live multiplayer room with its participants and turn state.
type Session struct {
	SessionId        SessionIdType                  `json:"sessionId"`
	RoomCode         string                         `json:"roomCode"`
	RoomKind         RoomKind                       `json:"roomKind"`
	OwnerPlayerId    PlayerIdType                   `json:"ownerPlayerId,omitempty"`
	GameDifficulty   GameDifficulty                 `json:"gameDifficulty"`
	GameConfig       GameConfig                     `json:"gameConfig"`
	DemoMode         bool                           `json:"demoMode"`
	DemoAutoRun      bool                           `json:"demoAutoRun"`
	DemoSpeedMode    bool                           `json:"demoSpeedMode"`
	CreatedAt        int64                          `json:"createdAt"`
	GameStartedAt    int64                          `json:"gameStartedAt,omitempty"`
	LastActivityAt   int64                          `json:"lastActivityAt"`
	ExpiresAt        int64                          `json:"expiresAt"`
	NextGameStartsAt int64                          `json:"nextGameStartsAt,omitempty"`
	SessionComplete  bool                           `json:"sessionComplete"`
	CompletedAt      int64                          `json:"completedAt,omitempty"`
	Participants     map[PlayerIdType]*Participant  `json:"participants"`
	TurnState        *TurnState                     `json:"turnState"`
	ChatConduct      *ChatConductState              `json:"chatConductState"`
	RoomBans         map[PlayerIdType]*BanRecord    `json:"roomBans"`
}

// IsPublic reports whether the session is listed in the public inventory.
func (s *Session) IsPublic() bool {
	return s.RoomKind == RoomKindPublicDefault || s.RoomKind == RoomKindPublicOverflow
}

// IsAlive reports whether the session has not idle-expired at the given time.
func (s *Session) IsAlive(now int64) bool {
	return s.ExpiresAt > now
}

// HumanCount returns the number of non-bot participants.
func (s *Session) HumanCount() int {
	n := 0
	for _, p := range s.Participants {
		if !p.IsBot {
			n++
		}
	}
	return n
}

// ActiveHumanCount returns the number of seated non-bot participants.
func (s *Session) ActiveHumanCount() int {
	n := 0
	for _, p := range s.Participants {
		if !p.IsBot && p.IsSeated {
			n++
		}
	}
	return n
}

// AuthToken is a hash-indexed access or refresh token record.
type AuthToken struct {
	TokenHash string        `json:"tokenHash"`
	PlayerId  PlayerIdType  `json:"playerId"`
	SessionId SessionIdType `json:"sessionId,omitempty"`
	IssuedAt  int64         `json:"issuedAt"`
	ExpiresAt int64         `json:"expiresAt"`
	Kind      TokenKind     `json:"kind"`
	RevokedAt int64         `json:"revokedAt,omitempty"`
}

// GameLogTypeAdminAction marks audit entries written by the admin plane.
const GameLogTypeAdminAction = "admin_action"

// GameLog is an append-only audit/event record.
type GameLog struct {
	Id        string         `json:"id"`
	PlayerId  PlayerIdType   `json:"playerId"`
	SessionId SessionIdType  `json:"sessionId,omitempty"`
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// StoreData is the process-wide aggregate owned by the store writer.
// Persistence adapters load and save this value as a whole.
type StoreData struct {
	Players    map[PlayerIdType]*Player     `json:"players"`
	Sessions   map[SessionIdType]*Session   `json:"sessions"`
	AuthTokens map[string]*AuthToken        `json:"authTokens"`
	GameLogs   []*GameLog                   `json:"gameLogs"`
}

// NewStoreData returns an empty aggregate with all maps allocated.
func NewStoreData() *StoreData {
	return &StoreData{
		Players:    make(map[PlayerIdType]*Player),
		Sessions:   make(map[SessionIdType]*Session),
		AuthTokens: make(map[string]*AuthToken),
	}
}

// ErrAdapterUnavailable is returned by persistence adapters when the backing
// store cannot be reached and the call was degraded rather than retried.
var ErrAdapterUnavailable = errors.New("persistence adapter unavailable")
