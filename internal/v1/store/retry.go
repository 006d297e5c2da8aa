package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

// RetryProfile is a named (attempts, baseDelayMs) tuple governing
// rehydration backoff. The set is closed and tuned per call site.
type RetryProfile struct {
	Name        string
	Attempts    int
	BaseDelayMs int64
}

var (
	ProfileSessionStandard    = RetryProfile{"sessionStandard", 6, 150}
	ProfileSessionFast        = RetryProfile{"sessionFast", 4, 120}
	ProfileSessionRefreshAuth = RetryProfile{"sessionRefreshAuth", 7, 200}
	ProfileAuthRecovery       = RetryProfile{"authRecovery", 5, 160}
	ProfileSessionLeave       = RetryProfile{"sessionLeave", 3, 100}
)

// RehydrateSessionWithRetry looks the session up at most profile.Attempts
// times. On a miss it sleeps baseDelayMs x attemptIndex (linear) and forces
// a rehydrate tagged "<prefix>:<sessionId>:attempt_<n>". Returns a clone as
// soon as the session appears, else nil.
func (w *World) RehydrateSessionWithRetry(ctx context.Context, sessionId types.SessionIdType, reasonPrefix string, profile RetryProfile) *types.Session {
	if sessionId == "" {
		return nil
	}

	for attempt := 1; attempt <= profile.Attempts; attempt++ {
		if s := w.GetSession(sessionId); s != nil {
			return s
		}
		if attempt == profile.Attempts {
			break
		}

		metrics.RehydrateAttempts.WithLabelValues(profile.Name).Inc()
		w.sleep(time.Duration(profile.BaseDelayMs*int64(attempt)) * time.Millisecond)

		reason := fmt.Sprintf("%s:%s:attempt_%d", reasonPrefix, sessionId, attempt)
		_ = w.RehydrateStoreFromAdapter(ctx, reason, true)
	}
	return nil
}

// RehydrateSessionParticipantWithRetry applies the same ladder but requires
// both the session and the participant to appear.
func (w *World) RehydrateSessionParticipantWithRetry(ctx context.Context, sessionId types.SessionIdType, playerId types.PlayerIdType, reasonPrefix string, profile RetryProfile) (*types.Session, *types.Participant) {
	if sessionId == "" || playerId == "" {
		return nil, nil
	}

	for attempt := 1; attempt <= profile.Attempts; attempt++ {
		if s := w.GetSession(sessionId); s != nil {
			if p, ok := s.Participants[playerId]; ok {
				return s, p
			}
		}
		if attempt == profile.Attempts {
			break
		}

		metrics.RehydrateAttempts.WithLabelValues(profile.Name).Inc()
		w.sleep(time.Duration(profile.BaseDelayMs*int64(attempt)) * time.Millisecond)

		reason := fmt.Sprintf("%s:%s:attempt_%d", reasonPrefix, sessionId, attempt)
		_ = w.RehydrateStoreFromAdapter(ctx, reason, true)
	}
	return nil, nil
}
