package middleware

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/pkg/response"
)

// AuthOption configura o middleware de autenticação.
type AuthOption struct {
	APIKey string
	Logger *zap.Logger
}

// Auth exige Authorization: Bearer <API_KEY>. A comparação é feita sobre o
// hash das chaves para não depender do tamanho do token recebido.
func Auth(opts AuthOption) gin.HandlerFunc {
	expected := sha256.Sum256([]byte(opts.APIKey))

	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Abort(c, opts.Logger, apperror.Unauthorized("token ausente"))
			return
		}
		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], expected[:]) != 1 {
			response.Abort(c, opts.Logger, apperror.Unauthorized("token inválido"))
			return
		}
		c.Next()
	}
}
