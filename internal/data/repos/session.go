package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/db"
)

// session resolves the handle for one repo call. An explicit tx always
// wins; otherwise the shared connection is borrowed from the gateway so
// a reconnect reaches the next query. Simple single-row reads pass
// skipWarmupWait to avoid stalling behind warmup verification.
func session(ctx context.Context, conn db.Conn, tx *gorm.DB, skipWarmupWait bool) (*gorm.DB, error) {
	if tx != nil {
		return tx, nil
	}
	return conn.Handle(ctx, skipWarmupWait)
}
