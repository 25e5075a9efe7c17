package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	"github.com/ordersight/ordersight-backend/internal/observability"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/sse"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Gateway  *db.Gateway
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	SSEHub   *sse.Hub

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg := LoadConfig(log)

	otelShutdown := observability.Init(context.Background(), log, observability.Config{
		ServiceName: "ordersight-backend",
	})

	gateway, err := db.NewGateway(log, db.ConfigFromEnv())
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	handle, err := gateway.Handle(context.Background(), false)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres warmup: %w", err)
	}
	if err := db.AutoMigrateAll(handle); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	hub := sse.NewHub(log)

	reposet := wireRepos(gateway, log)

	clientset, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(gateway, log, reposet, clientset)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, hub)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, handlerset, middleware)

	return &App{
		Log:          log,
		DB:           handle,
		Gateway:      gateway,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clientset,
		Services:     serviceset,
		SSEHub:       hub,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background machinery: the stage worker pool, the
// event forwarder feeding the SSE hub, and the periodic sweeps.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Clients.EventBus != nil {
		if err := a.Clients.EventBus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			a.Log.Error("event forwarder failed to start", "error", err)
		}
	} else if a.Clients.MemBus != nil {
		a.Clients.MemBus.Subscribe(a.SSEHub.Broadcast)
	}

	if a.Cfg.WorkerEnabled && a.Services.Worker != nil {
		go func() {
			if err := a.Services.Worker.Start(ctx); err != nil && ctx.Err() == nil {
				a.Log.Error("worker pool exited", "error", err)
			}
		}()
	}

	go a.sweepLoop(ctx, a.Cfg.JobSweepInterval, func(c context.Context) error {
		_, _, err := a.Services.JobSweeper.SweepExpired(c)
		return err
	})
	go a.sweepLoop(ctx, a.Cfg.StallSweepInterval, func(c context.Context) error {
		_, err := a.Services.RunSweeper.RecoverStalled(c)
		return err
	})
	go a.sweepLoop(ctx, a.Cfg.ResultSweepInterval, func(c context.Context) error {
		_, err := a.Services.RunSweeper.ClearExpiredResults(c)
		return err
	})
}

func (a *App) sweepLoop(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				a.Log.Warn("sweep failed", "error", err)
			}
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.Gateway != nil {
		a.Gateway.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
