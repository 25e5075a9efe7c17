package stages

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ordersight/ordersight-backend/internal/conflict"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// maxPersistRenames bounds how many times persist re-tries with a resolved
// order number before giving up.
const maxPersistRenames = 3

// PersistStage writes the extracted order and its lines. Order-number
// collisions abort the insert transaction; the resolver then picks a free
// variant on a clean connection and the insert is retried.
type PersistStage struct {
	orders   repos.PurchaseOrderRepo
	resolver *conflict.Resolver
	store    *workflow.ResultStore
	log      *logger.Logger
}

func NewPersistStage(orders repos.PurchaseOrderRepo, resolver *conflict.Resolver, store *workflow.ResultStore, baseLog *logger.Logger) *PersistStage {
	return &PersistStage{
		orders:   orders,
		resolver: resolver,
		store:    store,
		log:      baseLog.With("stage", workflow.StagePersist),
	}
}

func (s *PersistStage) Run(ctx context.Context, run *types.WorkflowRun, _ *types.StageJob) (interface{}, error) {
	// A retried persist job may have already landed its order.
	if existing, err := s.orders.GetByRun(ctx, nil, run.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return persistResult{OrderID: existing.ID.String(), OrderNumber: existing.OrderNumber}, nil
	}

	var extracted ExtractedOrder
	found, err := s.store.Get(ctx, nil, run.ID, workflow.StageExtract, &extracted)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, workflow.FatalError("persist: extract stage has not written its result")
	}
	if extracted.OrderNumber == "" {
		return nil, workflow.FatalError("persist: extracted order has no order number")
	}

	orderNumber := extracted.OrderNumber
	renamed := false
	for attempt := 0; ; attempt++ {
		po, lines := buildOrder(run, extracted, orderNumber)
		err := s.orders.CreateWithLines(ctx, nil, po, lines)
		if err == nil {
			s.log.Info("order persisted",
				"run_id", run.ID.String(), "order_id", po.ID.String(),
				"order_number", orderNumber, "lines", len(lines), "renamed", renamed)
			return persistResult{
				OrderID:     po.ID.String(),
				OrderNumber: orderNumber,
				Renamed:     renamed,
			}, nil
		}
		if !workflow.IsUniqueViolation(err, "") {
			return nil, err
		}
		if attempt >= maxPersistRenames {
			return nil, workflow.FatalError("persist: could not find a free order number for " + extracted.OrderNumber)
		}

		// The insert transaction is already aborted; Resolve probes on a
		// fresh connection.
		resolved, rErr := s.resolver.Resolve(ctx, run.TenantID, extracted.OrderNumber)
		if rErr != nil {
			return nil, rErr
		}
		orderNumber = resolved
		renamed = true
	}
}

func buildOrder(run *types.WorkflowRun, extracted ExtractedOrder, orderNumber string) (*types.PurchaseOrder, []*types.PurchaseOrderLine) {
	po := &types.PurchaseOrder{
		ID:           uuid.New(),
		TenantID:     run.TenantID,
		RunID:        run.ID,
		OrderNumber:  orderNumber,
		SupplierName: extracted.SupplierName,
		Currency:     extracted.Currency,
		Subtotal:     extracted.Subtotal,
		Tax:          extracted.Tax,
		Total:        extracted.Total,
		Status:       types.OrderStatusSaved,
		Metadata:     datatypes.JSON([]byte(`{}`)),
	}
	if extracted.OrderDate != "" {
		if d, err := time.Parse("2006-01-02", extracted.OrderDate); err == nil {
			po.OrderDate = &d
		}
	}

	lines := make([]*types.PurchaseOrderLine, 0, len(extracted.Lines))
	for _, l := range extracted.Lines {
		lines = append(lines, &types.PurchaseOrderLine{
			ID:          uuid.New(),
			LineNumber:  l.LineNumber,
			SKU:         l.SKU,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Total:       l.Total,
		})
	}
	return po, lines
}
