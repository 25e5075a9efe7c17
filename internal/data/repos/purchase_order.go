package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type PurchaseOrderRepo interface {
	CreateWithLines(ctx context.Context, tx *gorm.DB, po *types.PurchaseOrder, lines []*types.PurchaseOrderLine) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PurchaseOrder, error)
	GetByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.PurchaseOrder, error)
	ExistsOrderNumber(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, orderNumber string) (bool, error)
	HasPersistedLines(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (bool, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type purchaseOrderRepo struct {
	conn db.Conn
	log  *logger.Logger
}

func NewPurchaseOrderRepo(conn db.Conn, baseLog *logger.Logger) PurchaseOrderRepo {
	return &purchaseOrderRepo{
		conn: conn,
		log:  baseLog.With("repo", "PurchaseOrderRepo"),
	}
}

// CreateWithLines writes the order and all its lines in the caller's
// transaction. A unique violation on (tenant_id, order_number) aborts the
// whole transaction; resolution happens outside it.
func (r *purchaseOrderRepo) CreateWithLines(ctx context.Context, tx *gorm.DB, po *types.PurchaseOrder, lines []*types.PurchaseOrderLine) error {
	if po == nil {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(po).Error; err != nil {
			return err
		}
		for _, line := range lines {
			line.PurchaseOrderID = po.ID
		}
		if len(lines) > 0 {
			if err := txx.Create(&lines).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *purchaseOrderRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PurchaseOrder, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var po types.PurchaseOrder
	err = transaction.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (r *purchaseOrderRepo) GetByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.PurchaseOrder, error) {
	if runID == uuid.Nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var po types.PurchaseOrder
	err = transaction.WithContext(ctx).
		Preload("Lines").
		Where("run_id = ?", runID).
		Order("created_at DESC").
		Limit(1).
		Find(&po).Error
	if err != nil {
		return nil, err
	}
	if po.ID == uuid.Nil {
		return nil, nil
	}
	return &po, nil
}

func (r *purchaseOrderRepo) ExistsOrderNumber(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, orderNumber string) (bool, error) {
	if tenantID == uuid.Nil || orderNumber == "" {
		return false, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return false, err
	}
	var count int64
	err = transaction.WithContext(ctx).
		Model(&types.PurchaseOrder{}).
		Where("tenant_id = ? AND order_number = ?", tenantID, orderNumber).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasPersistedLines answers the recovery sweep's question: did the persist
// stage actually land, regardless of what the run record says.
func (r *purchaseOrderRepo) HasPersistedLines(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (bool, error) {
	if runID == uuid.Nil {
		return false, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return false, err
	}
	var count int64
	err = transaction.WithContext(ctx).
		Model(&types.PurchaseOrderLine{}).
		Joins("JOIN purchase_order ON purchase_order.id = purchase_order_line.purchase_order_id").
		Where("purchase_order.run_id = ?", runID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *purchaseOrderRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.PurchaseOrder{}).
		Where("id = ?", id).
		Updates(updates).Error
}
