// Package response padroniza o corpo das respostas HTTP.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	// RequestIDKey é a chave do contexto gin preenchida pelo middleware RequestID.
	RequestIDKey = "request_id"
)

type ErrorBody struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationId"`
	Details       map[string]any `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func Success(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Error registra o erro com um correlationId novo e responde com o envelope padrão.
func Error(c *gin.Context, log *zap.Logger, err error) {
	status, body := build(c, log, err)
	c.JSON(status, ErrorEnvelope{Error: body})
}

// Abort é a variante para middlewares: responde e interrompe a cadeia.
func Abort(c *gin.Context, log *zap.Logger, err error) {
	status, body := build(c, log, err)
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: body})
}

func build(c *gin.Context, log *zap.Logger, err error) (int, ErrorBody) {
	rich := apperror.From(err)
	correlationID := uuid.NewString()
	c.Header(HeaderCorrelationID, correlationID)

	body := ErrorBody{
		Code:          rich.TextCode,
		Message:       rich.Message,
		CorrelationID: correlationID,
	}
	if len(rich.Metadata) > 0 {
		body.Details = rich.Metadata
	}

	if log != nil {
		fields := []zap.Field{
			logger.CorrelationID(correlationID),
			zap.String("code", rich.TextCode),
			zap.Int("status", rich.Code),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		}
		if rid := c.GetString(RequestIDKey); rid != "" {
			fields = append(fields, logger.RequestID(rid))
		}
		if rich.Code >= http.StatusInternalServerError {
			log.Error("requisição falhou", fields...)
		} else {
			log.Info("requisição rejeitada", fields...)
		}
	}
	return rich.Code, body
}
