package stages

import (
	"context"
	"time"

	"github.com/ordersight/ordersight-backend/internal/clients/remote"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// SyncStage pushes the order and its new products to the merchant's
// commerce platform and records the remote ids. Idempotent per entity:
// anything already carrying a remote id is skipped.
type SyncStage struct {
	orders   repos.PurchaseOrderRepo
	products repos.ProductRepo
	remote   remote.Client
	log      *logger.Logger
}

func NewSyncStage(orders repos.PurchaseOrderRepo, products repos.ProductRepo, remoteClient remote.Client, baseLog *logger.Logger) *SyncStage {
	return &SyncStage{
		orders:   orders,
		products: products,
		remote:   remoteClient,
		log:      baseLog.With("stage", workflow.StageSync),
	}
}

func (s *SyncStage) Run(ctx context.Context, run *types.WorkflowRun, _ *types.StageJob) (interface{}, error) {
	po, err := s.orders.GetByRun(ctx, nil, run.ID)
	if err != nil {
		return nil, err
	}
	if po == nil {
		return nil, workflow.FatalError("sync: no persisted order for run")
	}

	productsSynced := 0
	prods, err := s.products.ListBySourcePO(ctx, nil, po.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range prods {
		if p.RemoteID != "" {
			continue
		}
		resp, err := s.remote.CreateProduct(ctx, remote.ProductRequest{
			ExternalRef: p.ID.String(),
			SKU:         p.SKU,
			Title:       p.Title,
		})
		if err != nil {
			s.markSyncFailed(ctx, po, err)
			return nil, err
		}
		now := time.Now()
		if err := s.products.UpdateFields(ctx, nil, p.ID, map[string]interface{}{
			"remote_id": resp.ID,
			"synced_at": now,
		}); err != nil {
			return nil, err
		}
		productsSynced++
	}

	remoteOrderID := po.RemoteID
	if remoteOrderID == "" {
		req := remote.OrderRequest{
			ExternalRef:  po.ID.String(),
			OrderNumber:  po.OrderNumber,
			SupplierName: po.SupplierName,
			Currency:     po.Currency,
			Total:        po.Total,
		}
		for _, line := range po.Lines {
			req.Lines = append(req.Lines, remote.OrderLine{
				SKU:       line.SKU,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
		}
		resp, err := s.remote.CreateOrder(ctx, req)
		if err != nil {
			s.markSyncFailed(ctx, po, err)
			return nil, err
		}
		remoteOrderID = resp.ID

		now := time.Now()
		if err := s.orders.UpdateFields(ctx, nil, po.ID, map[string]interface{}{
			"remote_id": remoteOrderID,
			"status":    types.OrderStatusSynced,
			"synced_at": now,
		}); err != nil {
			return nil, err
		}
	}

	s.log.Info("order synced",
		"run_id", run.ID.String(), "order_id", po.ID.String(),
		"remote_order_id", remoteOrderID, "products_synced", productsSynced)
	return map[string]interface{}{
		"remote_order_id": remoteOrderID,
		"products_synced": productsSynced,
	}, nil
}

// markSyncFailed flags the order so the status endpoint shows why it never
// reached the platform; retries clear it on success.
func (s *SyncStage) markSyncFailed(ctx context.Context, po *types.PurchaseOrder, cause error) {
	s.log.Warn("order sync failed",
		"order_id", po.ID.String(), "error", cause)
	if err := s.orders.UpdateFields(ctx, nil, po.ID, map[string]interface{}{
		"status": types.OrderStatusSyncFail,
	}); err != nil {
		s.log.Warn("marking order sync_failed failed",
			"order_id", po.ID.String(), "error", err)
	}
}
