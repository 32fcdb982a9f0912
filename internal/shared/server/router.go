package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/dashboard"
	"qc-dashboard/internal/services/health"
	"qc-dashboard/internal/shared/auth"
	"qc-dashboard/internal/shared/config"
	"qc-dashboard/internal/shared/metrics"
	"qc-dashboard/internal/shared/server/middleware"
	"qc-dashboard/internal/shared/server/respond"
)

// RouterDeps are the pieces the router mounts.
type RouterDeps struct {
	Config    config.Config
	Signer    *auth.Signer
	Dashboard *dashboard.Handler
	Health    *health.Service
	Limiter   *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Signer, dashboard.PublicPath),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT":               {Rate: 5, Burst: 20},
				middleware.PollingGroup: {Rate: 2, Burst: 10},
			},
			GroupFor: rateGroup,
			Limiter:  deps.Limiter,
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		status, ok := deps.Health.Status(c.Request.Context())
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	if deps.Dashboard != nil {
		deps.Dashboard.RegisterRoutes(api)
	}
	return r
}

// rateGroup puts the timer-driven read routes in their own bucket.
func rateGroup(c *gin.Context) string {
	if c.Request.Method != http.MethodGet {
		return ""
	}
	path := c.Request.URL.Path
	if strings.HasPrefix(path, "/api/v1/jobs/") || path == "/api/v1/candidate" || path == "/api/v1/profile" {
		return middleware.PollingGroup
	}
	if path == "/metrics" || path == "/api/v1/health" {
		return "UNLIMITED"
	}
	return ""
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
