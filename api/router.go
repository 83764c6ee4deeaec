package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/xsign/api/handler"
	"github.com/use-agent/xsign/api/middleware"
	"github.com/use-agent/xsign/cache"
	"github.com/use-agent/xsign/config"
	"github.com/use-agent/xsign/metrics"
	"github.com/use-agent/xsign/pool"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and /metrics are intentionally outside auth so monitoring
// probes always work.
func NewRouter(mgr *pool.Manager, cc *cache.Cache, m *metrics.Metrics, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	// Prometheus scrape endpoint.
	r.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(mgr, cfg.Target.DriftThreshold, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Signing
	protected.POST("/sign", handler.Sign(mgr, m))

	// Pool administration
	protected.GET("/stats", handler.Stats(mgr))
	protected.GET("/workers", handler.ListWorkers(mgr))
	protected.POST("/workers", handler.CreateWorker(mgr))
	protected.GET("/workers/:id", handler.GetWorker(mgr))
	protected.DELETE("/workers/:id", handler.RemoveWorker(mgr))

	// Session surface
	protected.GET("/cookies", handler.Cookies(mgr))
	protected.POST("/xsec-token", handler.Token(mgr, cc, m))

	return r
}
