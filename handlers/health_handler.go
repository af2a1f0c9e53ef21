package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/plantinhas/authgate/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]string      `json:"checks,omitempty"`
	KeyCache  map[string]interface{} `json:"key_cache,omitempty"`
}

// DatabaseChecker is a named database that can report its health
type DatabaseChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// CacheStatsReporter exposes key cache statistics
type CacheStatsReporter interface {
	Stats() map[string]interface{}
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	databases []DatabaseChecker
	keyCache  CacheStatsReporter
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. keyCache may be nil.
func NewHealthHandler(databases []DatabaseChecker, keyCache CacheStatsReporter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		databases: databases,
		keyCache:  keyCache,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - every database must answer; key cache statistics are informational
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	for _, db := range h.databases {
		key := db.Name() + "_database"
		if err := db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.String("database", db.Name()), zap.Error(err))
			checks[key] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[key] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if h.keyCache != nil {
		response.KeyCache = h.keyCache.Stats()
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
