package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"signing-relay/internal/adapter/tcp"
	"signing-relay/internal/core/domain"
	"signing-relay/internal/core/ports"
	"signing-relay/pkg/apperror"
	"signing-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// StatsSource exposes the signing service counters.
type StatsSource interface {
	Stats() tcp.Stats
}

// AuditReader lists recent audit events.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}

// AdminHandler serves the read-only operator endpoints.
type AdminHandler struct {
	stats StatsSource
	audit AuditReader
	now   func() time.Time
}

// NewAdminHandler creates a new AdminHandler. audit may be nil.
func NewAdminHandler(stats StatsSource, audit AuditReader) *AdminHandler {
	return &AdminHandler{stats: stats, audit: audit, now: time.Now}
}

type statsResponse struct {
	tcp.Stats
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// GetStats handles GET /v1/stats
func (h *AdminHandler) GetStats(c *gin.Context) {
	st := h.stats.Stats()
	resp := statsResponse{Stats: st}
	if !st.StartedAt.IsZero() {
		resp.UptimeSeconds = int64(h.now().Sub(st.StartedAt).Seconds())
	}
	response.OK(c, resp)
}

// ListAudit handles GET /v1/audit?limit=N
func (h *AdminHandler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		response.Error(c, apperror.ErrNotConfigured("Audit history"))
		return
	}

	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			response.Error(c, apperror.Validation("limit must be an integer between 1 and 1000"))
			return
		}
		limit = n
	}

	events, err := h.audit.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	response.List(c, events, len(events))
}

// HealthCheck returns a handler that verifies every dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
