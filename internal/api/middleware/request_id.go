package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/pkg/response"
)

const HeaderRequestID = "X-Request-ID"

// RequestID reaproveita o X-Request-ID recebido ou gera um novo, e devolve no header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// AccessLog registra uma linha por requisição.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			logger.RequestID(c.GetString(response.RequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", GetClientIP(c)),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, logger.InstanceID(id))
		}
		log.Debug("http", fields...)
	}
}
