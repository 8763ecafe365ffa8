package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/service"
	"go.uber.org/zap"
)

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(limiter service.Limiter, limit int, window time.Duration, keyFunc func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + c.FullPath() + ":" + keyFunc(c)

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			// The limiter is unavailable, let the request through
			logger.Warn("Rate limiter failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error:   "Too Many Requests",
				Message: "Too many attempts. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// IPBasedKey keys on the client IP as resolved by gin, which only honours
// forwarding headers from the router's trusted proxies
func IPBasedKey(c *gin.Context) string {
	return c.ClientIP()
}
