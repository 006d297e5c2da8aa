package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

func TestAppendGameLog(t *testing.T) {
	w := newTestWorld(nil)

	entry := w.AppendGameLog("alice", "session-1", "moderation", map[string]any{"action": "ban"})

	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.Id)
	assert.Equal(t, testNow, entry.Timestamp)

	listed := w.ListGameLogs(AuditFilter{}, 0)
	require.Len(t, listed, 1)
	assert.Equal(t, entry.Id, listed[0].Id)
}

func TestListGameLogsFiltersAndOrders(t *testing.T) {
	now := testNow
	w := NewWorld(nil, testSigningKey,
		WithClock(types.ClockFunc(func() int64 { now++; return now })),
	)

	w.AppendGameLog("alice", "session-1", "moderation", nil)
	w.AppendGameLog("bob", "session-1", "turn_end", nil)
	w.AppendGameLog("alice", "session-2", "moderation", nil)

	byPlayer := w.ListGameLogs(AuditFilter{PlayerId: "alice"}, 0)
	require.Len(t, byPlayer, 2)
	// Newest first.
	assert.Equal(t, types.SessionIdType("session-2"), byPlayer[0].SessionId)

	bySession := w.ListGameLogs(AuditFilter{SessionId: "session-1"}, 0)
	assert.Len(t, bySession, 2)

	byType := w.ListGameLogs(AuditFilter{Type: "turn_end"}, 0)
	require.Len(t, byType, 1)
	assert.Equal(t, types.PlayerIdType("bob"), byType[0].PlayerId)

	limited := w.ListGameLogs(AuditFilter{}, 2)
	assert.Len(t, limited, 2)
}

func TestListGameLogsReturnsCopies(t *testing.T) {
	w := newTestWorld(nil)
	w.AppendGameLog("alice", "session-1", "moderation", nil)

	w.ListGameLogs(AuditFilter{}, 0)[0].Type = "tampered"

	assert.Equal(t, "moderation", w.ListGameLogs(AuditFilter{}, 0)[0].Type)
}

func TestCompactLogStore(t *testing.T) {
	w := NewWorld(nil, testSigningKey,
		WithClock(types.ClockFunc(func() int64 { return testNow })),
		WithLogCapacity(10),
	)
	for i := 0; i < 25; i++ {
		w.AppendGameLog("alice", "session-1", fmt.Sprintf("event_%d", i), nil)
	}

	w.CompactLogStore()

	kept := w.ListGameLogs(AuditFilter{}, 0)
	require.Len(t, kept, 10)
	// Only the newest entries survive compaction.
	seen := make(map[string]bool)
	for _, l := range kept {
		seen[l.Type] = true
	}
	assert.True(t, seen["event_24"])
	assert.True(t, seen["event_15"])
	assert.False(t, seen["event_14"])
}

func TestCompactLogStoreUnderCapacity(t *testing.T) {
	w := newTestWorld(nil)
	w.AppendGameLog("alice", "session-1", "moderation", nil)

	w.CompactLogStore()

	assert.Len(t, w.ListGameLogs(AuditFilter{}, 0), 1)
}
