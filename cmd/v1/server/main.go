package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tumbledice/backend/go/internal/v1/admin"
	"github.com/tumbledice/backend/go/internal/v1/bot"
	"github.com/tumbledice/backend/go/internal/v1/conduct"
	"github.com/tumbledice/backend/go/internal/v1/config"
	"github.com/tumbledice/backend/go/internal/v1/health"
	"github.com/tumbledice/backend/go/internal/v1/httpapi"
	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/persistence"
	"github.com/tumbledice/backend/go/internal/v1/ratelimit"
	"github.com/tumbledice/backend/go/internal/v1/session"
	"github.com/tumbledice/backend/go/internal/v1/socket"
	"github.com/tumbledice/backend/go/internal/v1/store"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevelopmentMode || cfg.GoEnv == "development"); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	// --- Persistence Backend ---
	var (
		adapter     types.PersistenceAdapter
		redisClient *redis.Client
	)
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		redisAdapter, err := persistence.NewRedisAdapter(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, falling back to in-memory store", "error", err)
			adapter = persistence.NewMemoryAdapter()
		} else {
			adapter = redisAdapter
			redisClient = redisAdapter.Client()
			slog.Info("✅ Redis store backend initialized", "addr", cfg.RedisAddr)
		}
	case config.StoreBackendPostgres:
		pgAdapter, err := persistence.NewPostgresAdapter(context.Background(), cfg.PostgresDSN)
		if err != nil {
			slog.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		adapter = pgAdapter
		slog.Info("✅ Postgres store backend initialized")
	default:
		adapter = persistence.NewMemoryAdapter()
		slog.Info("Running with in-memory store (no durable persistence)")
	}

	// --- World and Services ---
	world := store.NewWorld(adapter, []byte(cfg.JWTSecret))
	if err := world.RehydrateStoreFromAdapter(context.Background(), "startup", false); err != nil {
		slog.Warn("Initial store load failed, starting from empty world", "error", err)
	}

	sessions := session.NewService(world, types.NopRelay{}, bot.NewGreedyEngine(time.Now().UnixNano()), session.Config{
		MaxHumanPlayers: cfg.MaxHumanPlayers,
		MaxBots:         cfg.MaxBots,
		IdleTtlMs:       cfg.SessionIdleTtlMs,
	})

	hub := socket.NewHub(world, sessions, conduct.NewFilter(), socket.DefaultConfig())
	sessions.SetRelay(hub)

	adminService := admin.NewService(world, sessions, cfg.AdminBootstrapUids, cfg.AdminBootstrapEmails)

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Router ---
	router := httpapi.NewRouter(httpapi.Deps{
		Sessions:       sessions,
		Admin:          adminService,
		Hub:            hub,
		Limiter:        limiter,
		Health:         health.NewHandler(adapter, cfg.StoreBackend),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Background Loops ---
	loopCtx, stopLoops := context.WithCancel(context.Background())
	loopsDone := make(chan struct{})
	go func() {
		defer close(loopsDone)
		if err := hub.RunLoops(loopCtx); err != nil && err != context.Canceled {
			slog.Error("Background loops exited", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopLoops()
	select {
	case <-loopsDone:
	case <-ctx.Done():
	}

	// Close all active sessions' sockets gracefully
	hub.Shutdown(ctx)

	// Flush the world one last time before the adapter goes away
	world.PersistStore(ctx)

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close the persistence backend if it was initialized
	if err := adapter.Close(); err != nil {
		slog.Error("Failed to close store backend:", "error", err)
	}

	slog.Info("Server exiting")
}
