package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/xsign/pool"
)

// Health returns a handler for GET /api/v1/health.
//
// The aggregate verdict is healthy when every worker passes its probes,
// degraded when at least one does, unhealthy when none do. Only the
// unhealthy case changes the HTTP status (503) so load balancers can
// act on it without tripping on a single bad worker.
func Health(mgr *pool.Manager, driftThreshold int, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := mgr.HealthCheck(c.Request.Context())
		report.Uptime = time.Since(startTime).Round(time.Second).String()

		// Drift is advisory: annotate the entry, never flip its verdict.
		for i := range report.Workers {
			w := &report.Workers[i]
			if w.Healthy && w.Reason == "" && driftThreshold > 0 && w.Drift > driftThreshold {
				w.Reason = fmt.Sprintf("dom fingerprint drifted %d bits from baseline", w.Drift)
			}
		}

		status := http.StatusOK
		if report.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}
