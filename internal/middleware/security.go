// Package middleware holds the gin middleware shared by every route.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/internal/ratelimit"
)

const (
	// RequestIDHeader carries the correlation ID in and out of the service
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key holding the correlation ID
	RequestIDKey = "request_id"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")

		// Enforce HTTPS (only in production)
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		}

		// JSON API only
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Analysis responses are patient specific
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "no-referrer")

		c.Next()
	}
}

// CorrelationID attaches a request ID to the context and the response.
// A well-formed incoming ID is reused; anything else gets a fresh UUID.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID returns the correlation ID set by CorrelationID
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// RequestTimeout bounds the request context. Handlers observe the deadline
// through c.Request.Context().
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs one structured line per request. Bodies and query
// strings are never logged since they may carry patient data.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id":    GetRequestID(c),
			"method":        c.Request.Method,
			"path":          c.FullPath(),
			"status":        status,
			"latency":       time.Since(start).String(),
			"response_size": c.Writer.Size(),
		})

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
	}
}

// RateLimit rejects clients that exhausted their token bucket with 429
func RateLimit(limiter *ratelimit.ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()

		if !limiter.Allow(clientID, 1) {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limiter.Rate())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, domain.NewAPIError(
				domain.ErrRateLimit,
				"Too many requests",
				"",
				GetRequestID(c),
			))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiter.Capacity(), 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limiter.Remaining(clientID), 10))
		c.Next()
	}
}

func retryAfterSeconds(rate float64) int {
	if rate <= 0 {
		return 1
	}
	seconds := int(1/rate + 0.999)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
