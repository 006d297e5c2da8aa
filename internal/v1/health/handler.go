package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

// Handler manages health check endpoints
type Handler struct {
	adapter types.PersistenceAdapter
	backend string
}

// NewHandler creates a new health check handler. The adapter may be nil when
// the server runs purely in memory.
func NewHandler(adapter types.PersistenceAdapter, backend string) *Handler {
	return &Handler{adapter: adapter, backend: backend}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if the persistence backend is reachable
// Returns 503 if it is not
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	storeStatus := h.checkStore(ctx)
	checks["store"] = storeStatus
	if storeStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkStore verifies persistence connectivity using the adapter's Ping
func (h *Handler) checkStore(ctx context.Context) string {
	// Pure in-memory mode has no external dependency to probe
	if h.adapter == nil {
		return "healthy"
	}

	if err := h.adapter.Ping(ctx); err != nil {
		logging.Error(ctx, "Store health check failed", zap.Error(err), zap.String("backend", h.backend))
		return "unhealthy"
	}

	return "healthy"
}
