package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/xsign/models"
	"github.com/use-agent/xsign/pool"
)

// ListWorkers returns a handler for GET /api/v1/workers.
func ListWorkers(mgr *pool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		workers := mgr.ListWorkers()
		c.JSON(http.StatusOK, models.WorkersResponse{
			Count:   len(workers),
			Workers: workers,
		})
	}
}

// GetWorker returns a handler for GET /api/v1/workers/:id.
func GetWorker(mgr *pool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		stats, ok := mgr.GetWorker(id)
		if !ok {
			respondError(c, models.NewSignError(models.ErrCodeInstanceNotFound,
				"worker "+id+" not found", nil))
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// CreateWorker returns a handler for POST /api/v1/workers. Scaling up is
// synchronous: the response carries the new worker once it is ready.
func CreateWorker(mgr *pool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := mgr.CreateWorker(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stats)
	}
}

// RemoveWorker returns a handler for DELETE /api/v1/workers/:id.
func RemoveWorker(mgr *pool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := mgr.RemoveWorker(c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
