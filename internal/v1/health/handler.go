// Package health exposes liveness and readiness probe endpoints.
package health

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/syncroom/syncroom/pkg/v1/broadcast"
	"github.com/syncroom/syncroom/pkg/v1/logging"
	"go.uber.org/zap"
)

// Engine is the slice of the broadcaster the probes report on.
type Engine interface {
	ClientCount() int
	RoomCount() int
}

var _ Engine = (*broadcast.Broadcaster)(nil)

// Handler serves the health endpoints for one engine instance.
type Handler struct {
	engine Engine
}

// NewHandler creates a health handler backed by the given engine.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// LivenessResponse is the liveness probe payload.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe payload.
type ReadinessResponse struct {
	Status    string         `json:"status"`
	Checks    map[string]any `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 whenever the process is
// up; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. The engine is in-process and has no
// external dependencies, so readiness reports engine counters and host
// resource pressure rather than dependency reachability.
func (h *Handler) Readiness(c *gin.Context) {
	checks := map[string]any{
		"clients":    h.engine.ClientCount(),
		"rooms":      h.engine.RoomCount(),
		"goroutines": runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		checks["memory_used_percent"] = vm.UsedPercent
	} else {
		logging.Warn(c.Request.Context(), "failed to read memory stats", zap.Error(err))
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		checks["cpu_percent"] = percents[0]
	}

	c.JSON(http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
