package handler

import (
	"signing-relay/internal/adapter/http/middleware"
	"signing-relay/internal/adapter/tcp"
	"signing-relay/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Stats          StatsSource
	Audit          AuditReader       // nil = audit history disabled
	Allowlist      *tcp.Allowlist    // nil = no source check
	RateLimiter    ports.RateLimiter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine for the admin surface.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 10)) // read-only API
	if deps.Allowlist != nil {
		r.Use(middleware.SourceAllowlist(deps.Allowlist, deps.Logger))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rules[group], deps.Logger)
	}

	r.GET("/health", rl("health"), HealthCheck(deps.HealthCheckers...))

	admin := NewAdminHandler(deps.Stats, deps.Audit)
	v1 := r.Group("/v1", rl("admin"))
	{
		v1.GET("/stats", admin.GetStats)
		v1.GET("/audit", admin.ListAudit)
	}

	return r
}
