package stages

import (
	"github.com/ordersight/ordersight-backend/internal/clients/gcp"
	"github.com/ordersight/ordersight-backend/internal/clients/openai"
	"github.com/ordersight/ordersight-backend/internal/clients/remote"
	"github.com/ordersight/ordersight-backend/internal/conflict"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/queue"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// Deps bundles everything the stage executors need.
type Deps struct {
	Uploads  repos.UploadRepo
	Orders   repos.PurchaseOrderRepo
	Products repos.ProductRepo

	Store    *workflow.ResultStore
	Resolver *conflict.Resolver

	Bucket   gcp.BucketService
	Document gcp.Document
	AI       openai.Client
	Remote   remote.Client

	Log *logger.Logger
}

// BuildRegistry wires every pipeline stage into a worker registry.
func BuildRegistry(d Deps) *queue.Registry {
	reg := queue.NewRegistry()
	reg.Register(workflow.StageParse, NewParseStage(d.Uploads, d.Bucket, d.Document, d.Log).Run)
	reg.Register(workflow.StageExtract, NewExtractStage(d.Store, d.AI, d.Log).Run)
	reg.Register(workflow.StagePersist, NewPersistStage(d.Orders, d.Resolver, d.Store, d.Log).Run)
	reg.Register(workflow.StageProducts, NewProductsStage(d.Orders, d.Products, d.Log).Run)
	reg.Register(workflow.StageImages, NewImagesStage(d.Orders, d.Products, d.Bucket, d.Store, d.Log).Run)
	reg.Register(workflow.StageSync, NewSyncStage(d.Orders, d.Products, d.Remote, d.Log).Run)
	reg.Register(workflow.StageFinalize, NewFinalizeStage(d.Uploads, d.Log).Run)
	return reg
}
