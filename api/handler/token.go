package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/use-agent/xsign/cache"
	"github.com/use-agent/xsign/metrics"
	"github.com/use-agent/xsign/models"
	"github.com/use-agent/xsign/pool"
	"github.com/use-agent/xsign/token"
)

// Token returns a handler for POST /api/v1/xsec-token.
//
// Orchestration flow:
//  1. Cache lookup, skipped when max_age_ms is 0.
//  2. Borrow a pooled worker to render the page. Concurrent requests for
//     the same URL share one rendering via singleflight.
//  3. Pull the token out of the HTML, cache it, respond.
func Token(mgr *pool.Manager, cc *cache.Cache, m *metrics.Metrics) gin.HandlerFunc {
	var flight singleflight.Group

	return func(c *gin.Context) {
		var req models.TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.TokenResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		key := cache.Key(req.URL)
		if cc != nil {
			if tok, hit := cc.Get(key, req.MaxAgeMs); hit {
				if m != nil {
					m.RecordTokenLookup(metrics.TokenCacheHit)
				}
				c.JSON(http.StatusOK, models.TokenResponse{
					Success:   true,
					XsecToken: tok,
					SourceURL: req.URL,
					Cached:    true,
				})
				return
			}
		}

		v, err, _ := flight.Do(key, func() (interface{}, error) {
			rendered, err := mgr.Visit(c.Request.Context(), req.URL)
			if err != nil {
				return nil, err
			}
			tok, found := token.Extract(rendered, req.URL)
			if !found {
				return nil, models.NewSignError(models.ErrCodeTokenNotFound,
					"no xsec_token in the rendered page", nil)
			}
			if cc != nil {
				cc.Set(key, tok)
			}
			return tok, nil
		})
		if err != nil {
			if m != nil {
				m.RecordTokenLookup(metrics.TokenFailed)
			}
			respondTokenError(c, err)
			return
		}
		if m != nil {
			m.RecordTokenLookup(metrics.TokenExtracted)
		}

		c.JSON(http.StatusOK, models.TokenResponse{
			Success:   true,
			XsecToken: v.(string),
			SourceURL: req.URL,
			Cached:    false,
		})
	}
}

// respondTokenError is respondError with the token envelope.
func respondTokenError(c *gin.Context, err error) {
	signErr, ok := err.(*models.SignError)
	if !ok {
		signErr = models.NewSignError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(mapErrorToStatus(signErr), models.TokenResponse{
		Success: false,
		Error:   signErr.ToDetail(),
	})
}
