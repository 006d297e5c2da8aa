package socket

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tumbledice/backend/go/internal/v1/logging"
)

// Loop cadences. The fast bot cadence serves demo speed mode.
const (
	turnLoopInterval       = 1 * time.Second
	botLoopInterval        = 1 * time.Second
	botLoopFastInterval    = 250 * time.Millisecond
	idleSweepInterval      = 10 * time.Second
	heartbeatSweepInterval = 30 * time.Second
)

// RunLoops supervises the background loops until the context is cancelled:
// turn timeouts, bot turns, session idle expiry and heartbeat eviction.
func (h *Hub) RunLoops(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.turnTimeoutLoop(ctx) })
	g.Go(func() error { return h.botLoop(ctx) })
	g.Go(func() error { return h.idleSweepLoop(ctx) })
	g.Go(func() error { return h.heartbeatSweepLoop(ctx) })
	return g.Wait()
}

// turnTimeoutLoop issues one warning inside the window, then force-advances
// expired turns.
func (h *Hub) turnTimeoutLoop(ctx context.Context) error {
	ticker := time.NewTicker(turnLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sessions.CollectTimeoutWarnings(h.cfg.WarningWindowMs)
			for _, id := range h.sessions.ExpiredTurnSessions() {
				h.sessions.AutoAdvanceTurn(ctx, id)
			}
		}
	}
}

// botLoop drives bot turns, polling faster for speed-mode demo rooms.
func (h *Hub) botLoop(ctx context.Context) error {
	normal := time.NewTicker(botLoopInterval)
	fast := time.NewTicker(botLoopFastInterval)
	defer normal.Stop()
	defer fast.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-normal.C:
			ids, _ := h.sessions.BotTurnSessions()
			for _, id := range ids {
				h.sessions.RunBotTurn(ctx, id)
			}
		case <-fast.C:
			_, ids := h.sessions.BotTurnSessions()
			for _, id := range ids {
				h.sessions.RunBotTurn(ctx, id)
			}
		}
	}
}

func (h *Hub) idleSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if expired := h.sessions.SweepIdleSessions(ctx); len(expired) > 0 {
				logging.Info(ctx, "idle sessions expired", zap.Int("count", len(expired)))
			}
		}
	}
}

func (h *Hub) heartbeatSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := h.sessions.SweepStaleHeartbeats(ctx, h.cfg.HeartbeatStaleMs); n > 0 {
				logging.Info(ctx, "stale participants evicted", zap.Int("count", n))
			}
		}
	}
}
