package conduct

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

const testNow = int64(100_000)

func newChatSession(playerIds ...types.PlayerIdType) *types.Session {
	session := &types.Session{
		SessionId:    "session-1",
		Participants: make(map[types.PlayerIdType]*types.Participant),
		ChatConduct:  types.NewChatConductState(),
	}
	for _, id := range playerIds {
		session.Participants[id] = &types.Participant{PlayerId: id}
	}
	return session
}

func TestInboundAllowsNormalMessage(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")

	verdict := f.Inbound(session, "alice", "nice roll!", testNow)

	assert.True(t, verdict.Allowed)
	assert.False(t, verdict.StateChanged)
	assert.Empty(t, session.ChatConduct.Players)
}

func TestInboundRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{"empty", "", types.ReasonRoomChannelInvalidMessage},
		{"whitespace only", "   \n\t  ", types.ReasonRoomChannelInvalidMessage},
		{"too long", strings.Repeat("a", 501), types.ReasonRoomChannelInvalidMessage},
		{"denied term", "spamspamspam buy now", types.ReasonRoomChannelMessageBlocked},
		{"denied term mixed case", "SpamSpamSpam", types.ReasonRoomChannelMessageBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter()
			session := newChatSession("alice")

			verdict := f.Inbound(session, "alice", tt.content, testNow)

			assert.False(t, verdict.Allowed)
			assert.Equal(t, tt.reason, verdict.Reason)
			assert.True(t, verdict.StateChanged)
		})
	}
}

func TestInboundMaxLengthBoundary(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")

	assert.True(t, f.Inbound(session, "alice", strings.Repeat("a", 500), testNow).Allowed)
	assert.False(t, f.Inbound(session, "alice", strings.Repeat("a", 501), testNow).Allowed)
}

func TestInboundExtraDeniedTerms(t *testing.T) {
	f := NewFilter("forbidden", "  ", "UPPER")
	session := newChatSession("alice")

	assert.False(t, f.Inbound(session, "alice", "this is forbidden here", testNow).Allowed)
	assert.False(t, f.Inbound(session, "alice", "upper case match", testNow).Allowed)
	assert.True(t, f.Inbound(session, "alice", "fine message", testNow).Allowed)
}

func TestThirdStrikeInsideWindowMutes(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")

	first := f.Inbound(session, "alice", "", testNow)
	assert.Zero(t, first.MutedUntil)
	second := f.Inbound(session, "alice", "", testNow+1_000)
	assert.Zero(t, second.MutedUntil)

	third := f.Inbound(session, "alice", "", testNow+2_000)
	assert.Equal(t, testNow+2_000+120_000, third.MutedUntil)

	state := session.ChatConduct.Players["alice"]
	require.NotNil(t, state)
	assert.Equal(t, 3, state.TotalStrikes)
	assert.Equal(t, third.MutedUntil, state.MutedUntil)
}

func TestStrikesOutsideWindowDoNotMute(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")

	f.Inbound(session, "alice", "", testNow)
	f.Inbound(session, "alice", "", testNow+70_000)
	verdict := f.Inbound(session, "alice", "", testNow+140_000)

	assert.Zero(t, verdict.MutedUntil)
	assert.Equal(t, 3, session.ChatConduct.Players["alice"].TotalStrikes)
}

func TestSixthStrikeFlagsAutoBan(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")

	var verdict types.ConductVerdict
	for i := 0; i < 6; i++ {
		verdict = f.Inbound(session, "alice", "", testNow+int64(i)*70_000)
	}

	assert.True(t, verdict.ShouldAutoBan)
	assert.Equal(t, 6, session.ChatConduct.Players["alice"].TotalStrikes)
}

func TestPreflightBlocksMutedSender(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")
	for i := 0; i < 3; i++ {
		f.Inbound(session, "alice", "", testNow)
	}
	mutedUntil := session.ChatConduct.Players["alice"].MutedUntil
	require.NotZero(t, mutedUntil)

	blocked := f.Preflight(session, "alice", testNow+1)
	assert.False(t, blocked.Allowed)
	assert.Equal(t, types.ReasonRoomChannelSenderRestricted, blocked.Reason)
	assert.Equal(t, mutedUntil, blocked.MutedUntil)

	// The mute lapses with time; preflight never extends it.
	assert.True(t, f.Preflight(session, "alice", mutedUntil+1).Allowed)
}

func TestPreflightNeverMutatesState(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")

	verdict := f.Preflight(session, "alice", testNow)

	assert.True(t, verdict.Allowed)
	assert.Empty(t, session.ChatConduct.Players)
}

func TestDirectUnknownPlayers(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice")

	assert.Equal(t, types.ReasonUnknownPlayer, f.Direct(session, "alice", "ghost").Reason)
	assert.Equal(t, types.ReasonUnknownPlayer, f.Direct(session, "ghost", "alice").Reason)
}

func TestDirectBlocksEitherWay(t *testing.T) {
	f := NewFilter()
	session := newChatSession("alice", "bob")

	assert.True(t, f.Direct(session, "alice", "bob").Allowed)

	session.Participants["bob"].BlockedPlayerIds = map[string]bool{"alice": true}
	verdict := f.Direct(session, "alice", "bob")
	assert.False(t, verdict.Allowed)
	assert.Equal(t, types.ReasonInteractionBlocked, verdict.Reason)

	// Blocking in the sender direction blocks too.
	session.Participants["bob"].BlockedPlayerIds = nil
	session.Participants["alice"].BlockedPlayerIds = map[string]bool{"bob": true}
	assert.False(t, f.Direct(session, "alice", "bob").Allowed)
}
