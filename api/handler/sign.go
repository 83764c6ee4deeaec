package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/xsign/metrics"
	"github.com/use-agent/xsign/models"
	"github.com/use-agent/xsign/pool"
)

// Sign returns a handler for POST /api/v1/sign.
//
// Orchestration flow:
//  1. Parse & validate request.
//  2. Manager.Execute routes the task to the next ready worker.
//  3. Translate the script payload into response headers.
func Sign(mgr *pool.Manager, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.SignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.SignResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		// ── 2. Sign on a pooled worker ──────────────────────────────
		payload, err := mgr.Execute(c.Request.Context(), pool.Task{
			URL:  req.URL,
			Data: req.DataString(),
		})

		var xt int64
		if err == nil {
			xt, err = parseTimestamp(payload["X-t"])
		}
		if m != nil {
			m.ObserveSign(err, time.Since(start))
		}
		if err != nil {
			respondError(c, err)
			return
		}

		// ── 3. Respond ──────────────────────────────────────────────
		c.JSON(http.StatusOK, models.SignResponse{
			Success:  true,
			XS:       payload["X-s"],
			XT:       xt,
			XSCommon: payload[pool.SideChannelKey],
		})
	}
}

// parseTimestamp converts the script's millisecond timestamp. The page
// always stringifies a number here; anything else means the page under
// the worker is not the one we think it is.
func parseTimestamp(raw string) (int64, error) {
	xt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, models.NewSignError(models.ErrCodeSignFailed,
			"signing script returned a malformed timestamp", err)
	}
	return xt, nil
}

// respondError maps a SignError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	signErr, ok := err.(*models.SignError)
	if !ok {
		signErr = models.NewSignError(models.ErrCodeInternal, err.Error(), err)
	}

	c.JSON(mapErrorToStatus(signErr), models.SignResponse{
		Success: false,
		Error:   signErr.ToDetail(),
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.SignError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeInstanceNotFound, models.ErrCodeTokenNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeInstanceLimit, models.ErrCodeMinInstances:
		return http.StatusConflict // 409
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeStartupFailed, models.ErrCodeSandboxTransport:
		return http.StatusBadGateway // 502
	case models.ErrCodeWorkerNotReady, models.ErrCodeNoAvailableWorker:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeSignTimeout, models.ErrCodePageTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}
