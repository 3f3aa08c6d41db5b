package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/lot-ledger/pkg/response"
	"golang.org/x/time/rate"
)

// RateLimit rejects requests beyond a token bucket of rps refilled per
// second with room for burst. rps <= 0 lets everything through.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			response.TooManyRequests(c, "too many requests")
			return
		}
		c.Next()
	}
}
