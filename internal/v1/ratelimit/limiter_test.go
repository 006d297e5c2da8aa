package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumbledice/backend/go/internal/v1/config"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitApiGlobal:  "3-M",
		RateLimitApiPublic:  "2-M",
		RateLimitApiRooms:   "2-M",
		RateLimitApiActions: "3-M",
		RateLimitWsIp:       "2-M",
		RateLimitWsPlayer:   "2-M",
	}
}

func newMemoryLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)
	return rl
}

func newLimitedRouter(t *testing.T, middleware gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doRequest(router *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiterRejectsBadFormat(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitApiGlobal = "lots"

	_, err := NewRateLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestPlayerKeySources(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		path     string
		headers  map[string]string
		wantKey  string
		wantType string
	}{
		{"query param", "/ping?playerId=alice", nil, "alice", "player"},
		{"header", "/ping", map[string]string{"X-Player-Id": "bob"}, "bob", "player"},
		{"ip fallback", "/ping", nil, "192.0.2.1", "ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}

			key, limitType := playerKey(c)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantType, limitType)
		})
	}
}

func TestGlobalMiddlewareSetsHeaders(t *testing.T) {
	rl := newMemoryLimiter(t)
	router := newLimitedRouter(t, rl.GlobalMiddleware())

	w := doRequest(router, "/ping?playerId=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestGlobalMiddlewareEnforcesPlayerBudget(t *testing.T) {
	rl := newMemoryLimiter(t)
	router := newLimitedRouter(t, rl.GlobalMiddleware())

	for i := 0; i < 3; i++ {
		w := doRequest(router, "/ping?playerId=alice", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := doRequest(router, "/ping?playerId=alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Too many requests")

	// A different player still has budget.
	w = doRequest(router, "/ping?playerId=bob", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGlobalMiddlewareAnonymousUsesPublicBudget(t *testing.T) {
	rl := newMemoryLimiter(t)
	router := newLimitedRouter(t, rl.GlobalMiddleware())

	for i := 0; i < 2; i++ {
		w := doRequest(router, "/ping", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := doRequest(router, "/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMiddlewareForEndpoint(t *testing.T) {
	rl := newMemoryLimiter(t)
	router := newLimitedRouter(t, rl.MiddlewareForEndpoint("rooms"))

	for i := 0; i < 2; i++ {
		w := doRequest(router, "/ping?playerId=alice", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := doRequest(router, "/ping?playerId=alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Retry-After"))
}

func TestCheckWebSocketIPBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := newMemoryLimiter(t)

	makeContext := func() (*gin.Context, *httptest.ResponseRecorder) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ws", nil)
		return c, w
	}

	for i := 0; i < 2; i++ {
		c, _ := makeContext()
		assert.True(t, rl.CheckWebSocket(c), "connect %d", i)
	}

	c, w := makeContext()
	assert.False(t, rl.CheckWebSocket(c))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCheckWebSocketPlayerBudget(t *testing.T) {
	rl := newMemoryLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, rl.CheckWebSocketPlayer(ctx, "alice"), "connect %d", i)
	}

	assert.Error(t, rl.CheckWebSocketPlayer(ctx, "alice"))
	assert.NoError(t, rl.CheckWebSocketPlayer(ctx, "bob"))
}
