package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EvaLM99/PictText/internal/services"
)

type RateLimitMiddleware struct {
	limiter *services.RateLimitService
}

func NewRateLimitMiddleware(limiter *services.RateLimitService) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// RateLimit bounds requests per user per endpoint within a sliding window.
func (rm *RateLimitMiddleware) RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ContextUserID)
		if userID == "" {
			// Unauthenticated endpoints are limited per client address.
			userID = c.ClientIP()
		}

		key := fmt.Sprintf("rate_limit:%s:%s", userID, c.Request.URL.Path)
		allowed, err := rm.limiter.Allow(c.Request.Context(), key, requests, window)
		if err != nil {
			// A broken limiter fails open; limiting is protection, not policy.
			c.Next()
			return
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("too many requests, limit %d per %v", requests, window),
			})
			return
		}

		c.Next()
	}
}
