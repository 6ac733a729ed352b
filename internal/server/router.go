package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/api/handler"
	"github.com/open-apime/apime-gateway/internal/api/middleware"
	"github.com/open-apime/apime-gateway/internal/metrics"
	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/pkg/response"
)

type Options struct {
	Env            string
	APIKey         string
	CORSOrigin     string
	MetricsEnabled bool
	Logger         *zap.Logger

	InstanceHandler *handler.InstanceHandler
	WebhookHandler  *handler.WebhookHandler
	MessageHandler  *handler.MessageHandler
	HealthHandler   *handler.HealthHandler

	RateLimit   middleware.RateLimitOption
	IPRateLimit middleware.IPRateLimitOption
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("panic em handler", zap.Any("panic", recovered))
		response.Abort(c, log, apperror.Internal(nil))
	}))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(log))
	if opts.MetricsEnabled {
		router.Use(middleware.Metrics())
	}
	router.Use(cors.New(corsConfig(opts.CORSOrigin)))

	router.NoRoute(func(c *gin.Context) {
		response.Error(c, log, apperror.NotFound("rota não encontrada"))
	})

	public := router.Group("")
	public.Use(middleware.IPRateLimit(opts.IPRateLimit))
	opts.HealthHandler.Register(public)
	if opts.MetricsEnabled {
		public.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	protected := router.Group("")
	protected.Use(middleware.RateLimit(opts.RateLimit))
	protected.Use(middleware.Auth(middleware.AuthOption{APIKey: opts.APIKey, Logger: log}))

	opts.InstanceHandler.Register(protected)
	opts.WebhookHandler.Register(protected)
	opts.MessageHandler.Register(protected)

	return router
}

func corsConfig(origin string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID, response.HeaderCorrelationID},
		MaxAge:        12 * time.Hour,
	}
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	return cfg
}
