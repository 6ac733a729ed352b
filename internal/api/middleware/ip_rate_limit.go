package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/pkg/ratelimiter"
	"github.com/open-apime/apime-gateway/internal/pkg/response"
)

type IPRateLimitOption struct {
	Enabled        bool
	Requests       int
	Window         time.Duration
	Limiter        ratelimiter.Limiter
	Logger         *zap.Logger
	SkipPrivateIPs bool
}

// IPRateLimit reforça limites por IP nas rotas públicas (healthz, metrics).
func IPRateLimit(opts IPRateLimitOption) gin.HandlerFunc {
	if !opts.Enabled || opts.Limiter == nil || opts.Requests <= 0 || opts.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		clientIP := GetClientIP(c)

		if opts.SkipPrivateIPs && IsPrivateIP(clientIP) {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:ip:%s", hashToken(clientIP))

		res, err := opts.Limiter.Allow(c.Request.Context(), key, opts.Requests, opts.Window)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Warn("ip rate limit: erro ao consultar limiter", zap.Error(err))
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, res)
		if !res.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())))
			if opts.Logger != nil {
				opts.Logger.Warn("ip rate limit: limite excedido", zap.String("ip", clientIP))
			}
			response.Abort(c, opts.Logger, apperror.RateLimited("muitas tentativas. tente novamente mais tarde"))
			return
		}

		c.Next()
	}
}
