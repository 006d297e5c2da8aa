package store

import (
	"sort"

	"github.com/google/uuid"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// defaultLogCapacity is the compaction retention bound: newest entries kept.
const defaultLogCapacity = 5000

// AppendGameLog records an audit/event entry under the writer lock.
func (w *World) AppendGameLog(playerId types.PlayerIdType, sessionId types.SessionIdType, logType string, payload map[string]any) *types.GameLog {
	entry := &types.GameLog{
		Id:        uuid.NewString(),
		PlayerId:  playerId,
		SessionId: sessionId,
		Type:      logType,
		Timestamp: w.clock.NowMs(),
		Payload:   payload,
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data.GameLogs = append(w.data.GameLogs, entry)
	return entry
}

// CompactLogStore drops the oldest entries beyond the retention bound.
func (w *World) CompactLogStore() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if excess := len(w.data.GameLogs) - w.logCapacity; excess > 0 {
		w.data.GameLogs = append([]*types.GameLog(nil), w.data.GameLogs[excess:]...)
	}
}

// AuditFilter narrows an audit listing.
type AuditFilter struct {
	PlayerId  types.PlayerIdType
	SessionId types.SessionIdType
	Type      string
}

// ListGameLogs returns up to limit matching entries, newest first.
func (w *World) ListGameLogs(filter AuditFilter, limit int) []*types.GameLog {
	w.mu.Lock()
	var matched []*types.GameLog
	for _, l := range w.data.GameLogs {
		if filter.PlayerId != "" && l.PlayerId != filter.PlayerId {
			continue
		}
		if filter.SessionId != "" && l.SessionId != filter.SessionId {
			continue
		}
		if filter.Type != "" && l.Type != filter.Type {
			continue
		}
		entry := *l
		matched = append(matched, &entry)
	}
	w.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp > matched[j].Timestamp
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
