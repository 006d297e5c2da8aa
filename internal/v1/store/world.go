// Package store owns the canonical in-memory world state: every live
// session, player record, auth token and game log. All mutation runs under a
// single global writer, satisfying the one-logical-writer-per-session rule
// the turn machine depends on.
package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"sync"
)

// World wraps the store aggregate with the global writer lock and the
// persistence boundary.
type World struct {
	mu      sync.Mutex
	data    *types.StoreData
	adapter types.PersistenceAdapter
	clock   types.Clock

	tokenSigningKey []byte
	logCapacity     int

	// sleep is swapped out in tests so retry ladders don't stall suites.
	sleep func(d time.Duration)
}

// Option configures a World.
type Option func(*World)

// WithClock injects a test clock.
func WithClock(clock types.Clock) Option {
	return func(w *World) { w.clock = clock }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep func(time.Duration)) Option {
	return func(w *World) { w.sleep = sleep }
}

// WithLogCapacity overrides the compaction retention bound.
func WithLogCapacity(n int) Option {
	return func(w *World) { w.logCapacity = n }
}

// NewWorld creates an empty world bound to the given persistence adapter.
func NewWorld(adapter types.PersistenceAdapter, tokenSigningKey []byte, opts ...Option) *World {
	w := &World{
		data:            types.NewStoreData(),
		adapter:         adapter,
		clock:           types.ClockFunc(func() int64 { return time.Now().UnixMilli() }),
		tokenSigningKey: tokenSigningKey,
		logCapacity:     defaultLogCapacity,
		sleep:           time.Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NowMs returns the world clock reading.
func (w *World) NowMs() int64 { return w.clock.NowMs() }

// Update runs fn on the aggregate under the writer lock. fn must not block
// on I/O; snapshots for broadcast are taken inside and marshaled after.
func (w *World) Update(fn func(data *types.StoreData) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.data)
}

// View runs fn on the aggregate under the lock without the expectation of
// mutation. Callers must not retain references past fn's return.
func (w *World) View(fn func(data *types.StoreData)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.data)
}

// GetSession returns a deep copy of the session, or nil if absent.
func (w *World) GetSession(sessionId types.SessionIdType) *types.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.data.Sessions[sessionId]; ok {
		return s.Clone()
	}
	return nil
}

// GetSessionByRoomCode returns a deep copy of the alive session holding the
// room code, or nil.
func (w *World) GetSessionByRoomCode(roomCode string) *types.Session {
	now := w.clock.NowMs()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.data.Sessions {
		if s.RoomCode == roomCode && s.IsAlive(now) {
			return s.Clone()
		}
	}
	return nil
}

// PersistStore saves the aggregate through the adapter. It is idempotent and
// safe to call after every mutation; failures are logged as warnings and do
// not roll back in-memory state.
func (w *World) PersistStore(ctx context.Context) {
	w.mu.Lock()
	snapshot := w.data.Clone()
	w.mu.Unlock()

	if err := w.adapter.Save(ctx, snapshot); err != nil {
		logging.Warn(ctx, "persist store failed", zap.Error(err))
		metrics.PersistFailures.Inc()
	}
}

// RehydrateStoreFromAdapter reloads the aggregate from persistence. With
// force, the loaded state replaces the in-memory aggregate wholesale;
// without force, rehydration is skipped when the world already has data.
func (w *World) RehydrateStoreFromAdapter(ctx context.Context, reason string, force bool) error {
	loaded, err := w.adapter.Load(ctx)
	if err != nil {
		logging.Warn(ctx, "rehydrate load failed", zap.String("reason", reason), zap.Error(err))
		return err
	}
	if loaded == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !force && (len(w.data.Sessions) > 0 || len(w.data.Players) > 0) {
		return nil
	}
	w.data = loaded
	logging.Info(ctx, "store rehydrated", zap.String("reason", reason),
		zap.Int("sessions", len(loaded.Sessions)), zap.Int("players", len(loaded.Players)))
	return nil
}

// Ping proxies a health probe to the adapter.
func (w *World) Ping(ctx context.Context) error {
	return w.adapter.Ping(ctx)
}
