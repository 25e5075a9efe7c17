package app

import (
	"github.com/gin-gonic/gin"

	"github.com/ordersight/ordersight-backend/internal/http"
	httpH "github.com/ordersight/ordersight-backend/internal/http/handlers"
	httpMW "github.com/ordersight/ordersight-backend/internal/http/middleware"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/sse"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health *httpH.HealthHandler
	Auth   *httpH.AuthHandler
	Upload *httpH.UploadHandler
	Run    *httpH.RunHandler
	Events *httpH.EventsHandler
	Admin  *httpH.AdminHandler
}

func wireHandlers(log *logger.Logger, serviceset Services, hub *sse.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(),
		Auth:   httpH.NewAuthHandler(serviceset.Auth),
		Upload: httpH.NewUploadHandler(log, serviceset.Upload),
		Run:    httpH.NewRunHandler(log, serviceset.Run),
		Events: httpH.NewEventsHandler(log, hub),
		Admin:  httpH.NewAdminHandler(log, serviceset.Auth, serviceset.RunSweeper, serviceset.JobSweeper),
	}
}

func wireMiddleware(log *logger.Logger, serviceset Services) Middleware {
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, serviceset.Auth),
	}
}

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:            log,
		HealthHandler:  handlers.Health,
		AuthHandler:    handlers.Auth,
		UploadHandler:  handlers.Upload,
		RunHandler:     handlers.Run,
		EventsHandler:  handlers.Events,
		AdminHandler:   handlers.Admin,
		AuthMiddleware: middleware.Auth,
	})
}
