package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cardio-risk-server/internal/domain"
)

// HospitalRateLimiter throttles requests per hospital with a token bucket each
type HospitalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewHospitalRateLimiter creates a limiter allowing rps requests per second per hospital
func NewHospitalRateLimiter(rps float64, burst int) *HospitalRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HospitalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the hospital may make another request now
func (l *HospitalRateLimiter) Allow(hospitalID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[hospitalID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[hospitalID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimit rejects requests over the hospital's budget with 429. It must run
// after Authenticate so the hospital is known.
func RateLimit(cfg domain.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewHospitalRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	return func(c *gin.Context) {
		if !limiter.Allow(HospitalID(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, domain.NewAPIError(
				domain.ErrRateLimit, "Too many requests", "", c.GetString(CorrelationIDKey)))
			return
		}
		c.Next()
	}
}
