package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/xsign/models"
	"github.com/use-agent/xsign/pool"
)

// Cookies returns a handler for GET /api/v1/cookies. The jar comes from
// the first worker whose page answers; the three named fields are the
// session cookies upstream callers pair with a signature.
func Cookies(mgr *pool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := mgr.Cookies(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.CookiesResponse{
			A1:         all["a1"],
			WebID:      all["webId"],
			WebSession: all["web_session"],
			All:        all,
		})
	}
}
