package app

import (
	"github.com/ordersight/ordersight-backend/internal/conflict"
	"github.com/ordersight/ordersight-backend/internal/data/db"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/progress"
	"github.com/ordersight/ordersight-backend/internal/queue"
	"github.com/ordersight/ordersight-backend/internal/services"
	"github.com/ordersight/ordersight-backend/internal/stages"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

type Services struct {
	Auth   services.AuthService
	Upload services.UploadService
	Run    services.RunService

	Engine     *workflow.Engine
	Store      *workflow.ResultStore
	Publisher  *progress.Publisher
	Worker     *queue.Worker
	RunSweeper *workflow.Sweeper
	JobSweeper *queue.Sweeper
}

func wireServices(conn db.Conn, log *logger.Logger, reposet Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	store := workflow.NewResultStore(reposet.Results, log)
	manager := queue.NewManager(reposet.Jobs, log)
	publisher := progress.NewPublisher(clients.Bus, log)
	resolver := conflict.NewResolver(reposet.Orders, log)

	engine := workflow.NewEngine(conn, reposet.Runs, reposet.Orders, store, manager, publisher, clients.Guard, log)

	registry := stages.BuildRegistry(stages.Deps{
		Uploads:  reposet.Uploads,
		Orders:   reposet.Orders,
		Products: reposet.Products,
		Store:    store,
		Resolver: resolver,
		Bucket:   clients.Bucket,
		Document: clients.Document,
		AI:       clients.AI,
		Remote:   clients.Remote,
		Log:      log,
	})
	worker := queue.NewWorker(reposet.Jobs, reposet.Runs, engine, registry, log)

	runSweeper := workflow.NewSweeper(reposet.Runs, reposet.Jobs, reposet.Orders, reposet.Results, engine, manager, log)
	jobSweeper := queue.NewSweeper(reposet.Jobs, engine, log)

	auth, err := services.NewAuthService(reposet.Tenants, log)
	if err != nil {
		return Services{}, err
	}
	upload := services.NewUploadService(reposet.Uploads, clients.Bucket, engine, log)
	run := services.NewRunService(reposet.Runs, reposet.Orders, store, engine, log)

	return Services{
		Auth:       auth,
		Upload:     upload,
		Run:        run,
		Engine:     engine,
		Store:      store,
		Publisher:  publisher,
		Worker:     worker,
		RunSweeper: runSweeper,
		JobSweeper: jobSweeper,
	}, nil
}
