package app

import (
	"github.com/ordersight/ordersight-backend/internal/data/db"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type Repos struct {
	Tenants  repos.TenantRepo
	Uploads  repos.UploadRepo
	Runs     repos.WorkflowRunRepo
	Results  repos.StageResultRepo
	Jobs     repos.StageJobRepo
	Orders   repos.PurchaseOrderRepo
	Products repos.ProductRepo
}

// wireRepos hands every repo the gateway, not a raw handle, so queries
// issued after a forced reconnect land on the replacement connection.
func wireRepos(conn db.Conn, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Tenants:  repos.NewTenantRepo(conn, log),
		Uploads:  repos.NewUploadRepo(conn, log),
		Runs:     repos.NewWorkflowRunRepo(conn, log),
		Results:  repos.NewStageResultRepo(conn, log),
		Jobs:     repos.NewStageJobRepo(conn, log),
		Orders:   repos.NewPurchaseOrderRepo(conn, log),
		Products: repos.NewProductRepo(conn, log),
	}
}
