package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/xsign/models"
	"github.com/use-agent/xsign/pool"
)

// Stats returns a handler for GET /api/v1/stats: pool-wide aggregates
// plus a per-worker breakdown.
func Stats(mgr *pool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.StatsResponse{
			PoolStats: mgr.Stats(),
			Workers:   mgr.ListWorkers(),
		})
	}
}
