package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ragbase/backend/go/pkg/logger"
	"ragbase/backend/go/pkg/ratelimiter"
)

// RequestIDHeader carries the trace id in requests and responses.
const RequestIDHeader = "X-Request-ID"

// ContextKeyLogger is the gin context key holding the request-scoped logger.
const ContextKeyLogger = "logger"

// RequestLogger attaches a trace id and a request-scoped logger to the context
// and logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(RequestIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Header(RequestIDHeader, traceID)

		reqLog := log.WithTrace(traceID)
		c.Set(ContextKeyLogger, reqLog)

		start := time.Now()
		c.Next()

		entry := reqLog.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("请求处理失败")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("请求被拒绝")
		default:
			entry.Info("请求完成")
		}
	}
}

// LoggerFrom returns the request-scoped logger, or fallback when none is set.
func LoggerFrom(c *gin.Context, fallback logger.Logger) logger.Logger {
	if v, ok := c.Get(ContextKeyLogger); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return fallback
}

// CORS allows every origin, method and header.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimit rejects requests with 429 once the client's bucket is empty.
// Clients are keyed by their IP address.
func RateLimit(limiter ratelimiter.KeyedRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.AllowKey(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too Many Requests",
				"type":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
