package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/ordersight/ordersight-backend/internal/http/handlers"
	httpMW "github.com/ordersight/ordersight-backend/internal/http/middleware"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthHandler   *httpH.AuthHandler
	UploadHandler *httpH.UploadHandler
	RunHandler    *httpH.RunHandler
	EventsHandler *httpH.EventsHandler
	AdminHandler  *httpH.AdminHandler
	HealthHandler *httpH.HealthHandler

	AuthMiddleware *httpMW.AuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("ordersight-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api/v1")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/token", cfg.AuthHandler.Token)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Uploads
		if cfg.UploadHandler != nil {
			protected.POST("/uploads", cfg.UploadHandler.Receive)
		}

		// Runs
		if cfg.RunHandler != nil {
			protected.GET("/runs", cfg.RunHandler.ListRuns)
			protected.GET("/runs/:id", cfg.RunHandler.GetRun)
			protected.POST("/runs/:id/retry", cfg.RunHandler.RetryRun)
		}

		// Realtime (SSE)
		if cfg.EventsHandler != nil {
			protected.GET("/events", cfg.EventsHandler.Stream)
		}
	}

	// Operator endpoints, token-guarded by the handler itself.
	if cfg.AdminHandler != nil {
		internal := r.Group("/internal")
		internal.POST("/tenants", cfg.AdminHandler.CreateTenant)
		internal.POST("/sweep", cfg.AdminHandler.Sweep)
	}

	return r
}
