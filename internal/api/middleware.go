package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/internal/ban"
	"github.com/cornchan/cornchan/pkg/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID tags every request with an id, reusing the caller's if present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		l := requestLogger(c)
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Warn("Request served", fields...)
			return
		}
		l.Info("Request served", fields...)
	}
}

// BanGate rejects callers with an active ban before any handler runs
func BanGate(gate *ban.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := gate.Check(c.Request.Context(), c.ClientIP()); err != nil {
			abort(c, err)
			return
		}
		c.Next()
	}
}

// limitBody caps the size of request bodies
func limitBody(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

func requestLogger(c *gin.Context) *zap.Logger {
	if id := c.GetString(requestIDKey); id != "" {
		return logging.WithRequestID(id).With(zap.String("component", "api"))
	}
	return logging.WithComponent("api")
}
