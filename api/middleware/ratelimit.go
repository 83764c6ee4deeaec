package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/xsign/config"
	"github.com/use-agent/xsign/models"
)

// RateLimit returns per-identity token-bucket rate limiting. Identity is
// the API key when the auth middleware ran first, the client IP otherwise.
// Limiters idle for an hour are evicted so the map cannot grow without
// bound.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	rl := &limiterTable{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
	}
	go rl.evictLoop()

	return func(c *gin.Context) {
		identity := c.ClientIP()
		if key, ok := c.Get("api_key"); ok {
			identity = key.(string)
		}

		if !rl.allow(identity) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.SignResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}
		c.Next()
	}
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type limiterTable struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
}

func (t *limiterTable) allow(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cl, ok := t.clients[identity]
	if !ok {
		cl = &clientLimiter{lim: rate.NewLimiter(t.rps, t.burst)}
		t.clients[identity] = cl
	}
	cl.lastSeen = time.Now()
	return cl.lim.Allow()
}

// evictLoop drops identities not seen in the last hour, every 5 minutes.
func (t *limiterTable) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-1 * time.Hour)
		t.mu.Lock()
		for id, cl := range t.clients {
			if cl.lastSeen.Before(cutoff) {
				delete(t.clients, id)
			}
		}
		t.mu.Unlock()
	}
}
