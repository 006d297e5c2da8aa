package types

import "context"

// --- Shared Interfaces ---

// PersistenceAdapter is the opaque key-value persistence boundary. The core
// never depends on its on-disk format, only on load/save of the aggregate.
type PersistenceAdapter interface {
	Load(ctx context.Context) (*StoreData, error)
	Save(ctx context.Context, data *StoreData) error
	Ping(ctx context.Context) error
	Close() error
}

// TurnRollPayload is the client-reported result of a physics roll. The
// server validates it and assigns the authoritative ServerRollId.
type TurnRollPayload struct {
	RollIndex int   `json:"rollIndex"`
	Dice      []Die `json:"dice"`
}

// TurnScorePayload is the client's declared scoring selection for the
// current roll snapshot.
type TurnScorePayload struct {
	SelectedDiceIds []string `json:"selectedDiceIds"`
	Points          int      `json:"points"`
	RollServerId    string   `json:"rollServerId"`
}

// BotEngine drives bot participants' turns.
type BotEngine interface {
	BuildTurnRollPayload(cfg GameConfig, remainingDice int, rollIndex int) TurnRollPayload
	BuildTurnScoreSummary(snapshot *RollSnapshot, remainingDice int) TurnScorePayload
}

// ConductVerdict is the outcome of running a chat message through a conduct
// filter stage.
type ConductVerdict struct {
	Allowed       bool
	Reason        string
	StateChanged  bool
	ShouldAutoBan bool
	MutedUntil    int64
}

// Allow returns the verdict that lets a message through unchanged.
func Allow() ConductVerdict { return ConductVerdict{Allowed: true} }

// Block returns a blocking verdict with the given reason.
func Block(reason string) ConductVerdict { return ConductVerdict{Reason: reason} }

// ConductFilterRegistry applies chat-conduct policy. The core specifies only
// how verdicts are applied; the rules themselves live behind this interface.
type ConductFilterRegistry interface {
	// Preflight checks sender restrictions only (e.g. active mutes).
	Preflight(session *Session, sender PlayerIdType, now int64) ConductVerdict
	// Inbound applies content rules and may accrue strikes on the session's
	// conduct state; StateChanged signals the caller to persist.
	Inbound(session *Session, sender PlayerIdType, content string, now int64) ConductVerdict
	// Direct checks block relationships for targeted delivery.
	Direct(session *Session, sender, target PlayerIdType) ConductVerdict
}

// SocketRelay is the orchestrator surface the membership and control
// services use to fan out events and tear down connections. Sockets hold
// only non-owning (sessionId, playerId) references into the store.
type SocketRelay interface {
	BroadcastToSession(sessionId SessionIdType, message any)
	SendToSessionPlayer(sessionId SessionIdType, playerId PlayerIdType, message any)
	BroadcastRoomChannelToSession(sessionId SessionIdType, sender PlayerIdType, message any)
	CloseSessionPlayerSockets(sessionId SessionIdType, playerId PlayerIdType, code int, reason string)
}

// NopRelay is a SocketRelay that drops everything. Used before the
// orchestrator is wired and in tests that don't exercise fanout.
type NopRelay struct{}

func (NopRelay) BroadcastToSession(SessionIdType, any)                              {}
func (NopRelay) SendToSessionPlayer(SessionIdType, PlayerIdType, any)               {}
func (NopRelay) BroadcastRoomChannelToSession(SessionIdType, PlayerIdType, any)     {}
func (NopRelay) CloseSessionPlayerSockets(SessionIdType, PlayerIdType, int, string) {}

// Clock abstracts wall time as epoch milliseconds so the turn machine and
// sweeps are testable with literal timestamps.
type Clock interface {
	NowMs() int64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() int64

func (f ClockFunc) NowMs() int64 { return f() }
