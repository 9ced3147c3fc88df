package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mwiater/chorus/internal/logging"
)

const requestIDKey = "request_id"

// RequestIDMiddleware generates a unique ID for each request.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := "req_" + uuid.New().String()[:8]
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggingMiddleware logs request start and end with timing.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetString(requestIDKey)

		logging.WithFields(logging.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"event":      "started",
		}).Info("Request started")

		c.Next()

		logging.WithFields(logging.Fields{
			"request_id": requestID,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"event":      "completed",
		}).Info("Request completed")
	}
}

// CORSMiddleware sets permissive CORS headers and answers pre-flight requests.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// recoveryHandler reports a panic in a handler as a JSON 500.
func recoveryHandler(c *gin.Context, recovered any) {
	logging.WithFields(logging.Fields{
		"request_id": c.GetString(requestIDKey),
		"event":      "panic",
	}).Errorf("handler panicked: %v", recovered)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal server error",
		"details": "Unknown error",
	})
}
