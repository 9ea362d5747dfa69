package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/erp/costalloc/internal/infrastructure/persistence"
	"github.com/erp/costalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// healthTimeout bounds the database ping of a health check
const healthTimeout = 2 * time.Second

// Pinger checks a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// poolStatter is implemented by databases that expose pool statistics
type poolStatter interface {
	Stats() (persistence.ConnectionStats, error)
}

// SystemHandler handles system-related API endpoints
type SystemHandler struct {
	BaseHandler
	db        Pinger
	name      string
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(db Pinger, name string, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		BaseHandler: BaseHandler{logger: logger},
		db:          db,
		name:        name,
		startTime:   time.Now(),
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name" example:"costalloc"`
	GoVersion string `json:"go_version" example:"go1.25.5"`
	Uptime    string `json:"uptime" example:"1h30m45s"`

	Database *persistence.ConnectionStats `json:"database,omitempty"`
}

// Health godoc
// @ID           health
// @Summary      Health check
// @Description  Reports healthy when the database answers a ping
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.HealthResponse
// @Failure      503 {object} dto.HealthResponse
// @Router       /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log(c).Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "unhealthy", Database: "down"})
		return
	}
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "healthy", Database: "up"})
}

// GetSystemInfo returns the service name, Go version, uptime and, when the
// database exposes them, its pool statistics
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:      h.name,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if ps, ok := h.db.(poolStatter); ok {
		stats, err := ps.Stats()
		if err != nil {
			h.log(c).Warn("Failed to read pool statistics", zap.Error(err))
		} else {
			info.Database = &stats
		}
	}
	h.Success(c, info)
}
