package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// maxSuffixProbes bounds the numbered-suffix search before falling back to
// a timestamp suffix.
const maxSuffixProbes = 10

// Resolver disambiguates order numbers that collide on the per-tenant
// unique index. It runs on a fresh connection after the inserting
// transaction has already aborted: probing inside an aborted transaction
// would only see "current transaction is aborted" errors.
type Resolver struct {
	orders repos.PurchaseOrderRepo
	clock  func() time.Time
	log    *logger.Logger
}

func NewResolver(orders repos.PurchaseOrderRepo, baseLog *logger.Logger) *Resolver {
	return &Resolver{
		orders: orders,
		clock:  time.Now,
		log:    baseLog.With("component", "ConflictResolver"),
	}
}

// Resolve returns a free variant of orderNumber for the tenant: the first
// available of "-1" through "-10", else a timestamp suffix that is free by
// construction. The original number is not probed; the caller already hit
// the unique index with it.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, orderNumber string) (string, error) {
	for i := 1; i <= maxSuffixProbes; i++ {
		candidate := fmt.Sprintf("%s-%d", orderNumber, i)
		taken, err := r.orders.ExistsOrderNumber(ctx, nil, tenantID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			r.log.Info("order number conflict resolved",
				"tenant_id", tenantID.String(), "base", orderNumber, "resolved", candidate)
			return candidate, nil
		}
	}

	candidate := fmt.Sprintf("%s-%d", orderNumber, r.clock().UnixNano())
	r.log.Warn("order number suffix space exhausted, using timestamp",
		"tenant_id", tenantID.String(), "base", orderNumber, "resolved", candidate)
	return candidate, nil
}
