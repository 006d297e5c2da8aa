// Package session implements the control plane for multiplayer sessions:
// room listing, create/join/leave, heartbeats, seat state, moderation, demo
// controls and auth refresh. All mutation goes through the store writer; the
// orchestrator is reached only through the SocketRelay capability.
package session

import (
	"net/http"

	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

// Config carries the session-control tunables.
type Config struct {
	MaxHumanPlayers   int
	MaxBots           int
	IdleTtlMs         int64
	RoomsDefaultLimit int
	RoomsMaxLimit     int
}

// DefaultConfig returns production defaults. Tests override IdleTtlMs with
// short literal values.
func DefaultConfig() Config {
	return Config{
		MaxHumanPlayers:   8,
		MaxBots:           4,
		IdleTtlMs:         30 * 60 * 1000,
		RoomsDefaultLimit: 20,
		RoomsMaxLimit:     100,
	}
}

// Service is the session control plane.
type Service struct {
	world *store.World
	relay types.SocketRelay
	bots  types.BotEngine
	cfg   Config

	moderationAuthorizer func(types.PlayerIdType) bool
}

// NewService wires the control plane to the world, relay and bot engine.
func NewService(world *store.World, relay types.SocketRelay, bots types.BotEngine, cfg Config) *Service {
	if cfg.MaxHumanPlayers <= 0 {
		cfg.MaxHumanPlayers = DefaultConfig().MaxHumanPlayers
	}
	if cfg.IdleTtlMs <= 0 {
		cfg.IdleTtlMs = DefaultConfig().IdleTtlMs
	}
	if cfg.RoomsDefaultLimit <= 0 {
		cfg.RoomsDefaultLimit = DefaultConfig().RoomsDefaultLimit
	}
	if cfg.RoomsMaxLimit <= 0 {
		cfg.RoomsMaxLimit = DefaultConfig().RoomsMaxLimit
	}
	return &Service{world: world, relay: relay, bots: bots, cfg: cfg}
}

// World exposes the underlying store for the orchestrator and admin plane.
func (s *Service) World() *store.World { return s.world }

// Config returns the active tunables.
func (s *Service) Config() Config { return s.cfg }

// SetRelay swaps the socket relay after the orchestrator is constructed.
// Called once during wiring, before any traffic.
func (s *Service) SetRelay(relay types.SocketRelay) { s.relay = relay }

// SetModerationAuthorizer installs the admin plane's role check for the
// moderation path. When unset, only stored operator and owner roles qualify.
func (s *Service) SetModerationAuthorizer(fn func(types.PlayerIdType) bool) {
	s.moderationAuthorizer = fn
}

// Result is the uniform {status, payload} response shape of every
// control-plane operation.
type Result struct {
	Status  int
	Payload map[string]any
}

func ok(payload map[string]any) Result {
	return Result{Status: http.StatusOK, Payload: payload}
}

func fail(status int, reason string) Result {
	return Result{Status: status, Payload: map[string]any{"error": reason}}
}
