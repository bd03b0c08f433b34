package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggingMiddleware adds request logging
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("body_size", c.Writer.Size()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}

// BasicAuthMiddleware protects a route group with HTTP Basic Auth
func BasicAuthMiddleware(username, password string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="offline-stream"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "Authentication required"))
			return
		}

		validUser := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		validPass := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

		if !validUser || !validPass {
			c.Header("WWW-Authenticate", `Basic realm="offline-stream"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "Invalid credentials"))
			logger.Warn("failed API authentication attempt",
				zap.String("username", user),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		c.Next()
	}
}

// errorResponse is the body of every non-2xx JSON response
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorBody(code, message string) errorResponse {
	return errorResponse{Error: code, Message: message}
}
