package stages

import (
	"context"

	types "github.com/ordersight/ordersight-backend/internal/domain"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// ProductsStage derives catalog products from the persisted order lines.
// Upsert-by-SKU keeps retries and repeat orders from duplicating rows.
type ProductsStage struct {
	orders   repos.PurchaseOrderRepo
	products repos.ProductRepo
	log      *logger.Logger
}

func NewProductsStage(orders repos.PurchaseOrderRepo, products repos.ProductRepo, baseLog *logger.Logger) *ProductsStage {
	return &ProductsStage{
		orders:   orders,
		products: products,
		log:      baseLog.With("stage", workflow.StageProducts),
	}
}

func (s *ProductsStage) Run(ctx context.Context, run *types.WorkflowRun, _ *types.StageJob) (interface{}, error) {
	po, err := s.orders.GetByRun(ctx, nil, run.ID)
	if err != nil {
		return nil, err
	}
	if po == nil {
		return nil, workflow.FatalError("products: no persisted order for run")
	}

	created := 0
	skipped := 0
	for _, line := range po.Lines {
		if line.SKU == "" {
			skipped++
			continue
		}
		if _, err := s.products.UpsertBySKU(ctx, nil, &types.Product{
			TenantID: run.TenantID,
			SKU:      line.SKU,
			Title:    line.Description,
			SourcePO: po.ID,
		}); err != nil {
			return nil, err
		}
		created++
	}

	s.log.Info("products upserted",
		"run_id", run.ID.String(), "order_id", po.ID.String(),
		"products", created, "skipped_lines", skipped)
	return map[string]interface{}{
		"product_count": created,
		"skipped_lines": skipped,
	}, nil
}
