package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// Message kinds. Client→server kinds are the same set minus the
// server-originated ones (no turn_start, error, or turn_timeout_*).
const (
	TypeSessionState       = "session_state"
	TypeTurnStart          = "turn_start"
	TypeTurnEnd            = "turn_end"
	TypeTurnAction         = "turn_action"
	TypeTurnTimeoutWarning = "turn_timeout_warning"
	TypeTurnAutoAdvanced   = "turn_auto_advanced"
	TypeGameUpdate         = "game_update"
	TypePlayerNotification = "player_notification"
	TypeRoomChannel        = "room_channel"
	TypeError              = "error"
	TypeChaosAttack        = "chaos_attack"
	TypeParticleEmit       = "particle:emit"
)

// clientMessageTypes is the closed schema for inbound payloads.
var clientMessageTypes = map[string]bool{
	TypeChaosAttack:        true,
	TypeParticleEmit:       true,
	TypeGameUpdate:         true,
	TypePlayerNotification: true,
	TypeRoomChannel:        true,
	TypeTurnEnd:            true,
	TypeTurnAction:         true,
}

// IsClientMessageType reports whether the type is accepted from clients.
func IsClientMessageType(t string) bool { return clientMessageTypes[t] }

// Inbound is a parsed client message: the discriminating type plus the raw
// envelope for payload-specific decoding.
type Inbound struct {
	Type string
	Raw  json.RawMessage
}

// DecodeInbound parses the envelope and validates the type discriminator.
func DecodeInbound(data []byte) (*Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%s: %w", types.ReasonInvalidPayload, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%s: missing type", types.ReasonInvalidPayload)
	}
	return &Inbound{Type: head.Type, Raw: json.RawMessage(data)}, nil
}

// DecodePayload unmarshals the full inbound envelope into dst.
func (in *Inbound) DecodePayload(dst any) error {
	if err := json.Unmarshal(in.Raw, dst); err != nil {
		return fmt.Errorf("%s: %w", types.ReasonInvalidPayload, err)
	}
	return nil
}

// --- Client payloads ---

// TurnActionMessage carries a roll, select or score action.
type TurnActionMessage struct {
	Type   string                  `json:"type"`
	Action string                  `json:"action"`
	Roll   *types.TurnRollPayload  `json:"roll,omitempty"`
	Score  *types.TurnScorePayload `json:"score,omitempty"`
}

// Turn action verbs.
const (
	ActionRoll   = "roll"
	ActionSelect = "select"
	ActionScore  = "score"
)

// TurnEndMessage is a client's request to formally end their turn.
type TurnEndMessage struct {
	Type     string `json:"type"`
	PlayerId string `json:"playerId,omitempty"`
}

// RoomChannelMessage is session chat. TargetPlayerId set means a direct
// (whispered) message.
type RoomChannelMessage struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	TargetPlayerId string `json:"targetPlayerId,omitempty"`
}

// PlayerNotificationMessage is a targeted realtime notification relay.
type PlayerNotificationMessage struct {
	Type           string          `json:"type"`
	TargetPlayerId string          `json:"targetPlayerId"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// GameUpdateMessage is an opaque client game-state relay (cosmetic).
type GameUpdateMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Server envelopes ---

// ErrorMessage reports a closed-set reason to one client. Sync requests the
// client to resynchronize its turn view.
type ErrorMessage struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Sync   bool   `json:"sync,omitempty"`
}

// NewError builds an error envelope.
func NewError(code, reason string, sync bool) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Reason: reason, Sync: sync}
}

// SessionStateMessage carries a full session snapshot.
type SessionStateMessage struct {
	Type    string         `json:"type"`
	Session *types.Session `json:"session"`
}

// NewSessionState wraps a session snapshot.
func NewSessionState(session *types.Session) SessionStateMessage {
	return SessionStateMessage{Type: TypeSessionState, Session: session}
}

// TurnStartMessage announces whose turn begins.
type TurnStartMessage struct {
	Type          string          `json:"type"`
	PlayerId      string          `json:"playerId"`
	Round         int             `json:"round"`
	TurnNumber    int             `json:"turnNumber"`
	Phase         types.TurnPhase `json:"phase"`
	TurnExpiresAt int64           `json:"turnExpiresAt,omitempty"`
}

// TurnEndBroadcast announces a completed turn.
type TurnEndBroadcast struct {
	Type       string `json:"type"`
	PlayerId   string `json:"playerId"`
	Round      int    `json:"round"`
	TurnNumber int    `json:"turnNumber"`
	EndedBy    string `json:"endedBy"`
	Source     string `json:"source"`
	FinalScore int    `json:"finalScore"`
}

// TurnActionBroadcast relays a validated action result to the session.
type TurnActionBroadcast struct {
	Type         string              `json:"type"`
	PlayerId     string              `json:"playerId"`
	Action       string              `json:"action"`
	RollSnapshot *types.RollSnapshot `json:"rollSnapshot,omitempty"`
	ScoreSummary *types.ScoreSummary `json:"scoreSummary,omitempty"`
	Timestamp    int64               `json:"timestamp"`
}

// TurnTimeoutWarning is sent once within the warning window before expiry.
type TurnTimeoutWarning struct {
	Type          string `json:"type"`
	PlayerId      string `json:"playerId"`
	TurnExpiresAt int64  `json:"turnExpiresAt"`
}

// TurnAutoAdvanced announces a server-forced turn advance at expiry.
type TurnAutoAdvanced struct {
	Type     string `json:"type"`
	PlayerId string `json:"playerId"`
	Source   string `json:"source"`
}
