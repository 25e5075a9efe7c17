package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type ProductRepo interface {
	UpsertBySKU(ctx context.Context, tx *gorm.DB, product *types.Product) (*types.Product, error)
	GetBySKU(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, sku string) (*types.Product, error)
	ListBySourcePO(ctx context.Context, tx *gorm.DB, poID uuid.UUID) ([]*types.Product, error)
	AttachImage(ctx context.Context, tx *gorm.DB, image *types.ProductImage) error
	ListImages(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]*types.ProductImage, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type productRepo struct {
	conn db.Conn
	log  *logger.Logger
}

func NewProductRepo(conn db.Conn, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		conn: conn,
		log:  baseLog.With("repo", "ProductRepo"),
	}
}

// UpsertBySKU makes the products stage idempotent: a retried job updates
// the existing row instead of tripping the (tenant_id, sku) unique index.
func (r *productRepo) UpsertBySKU(ctx context.Context, tx *gorm.DB, product *types.Product) (*types.Product, error) {
	if product == nil || product.TenantID == uuid.Nil || product.SKU == "" {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	err = transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "source_po", "updated_at"}),
		}).
		Create(product).Error
	if err != nil {
		return nil, err
	}
	// The conflict path keeps the existing row's id; read it back so the
	// caller always holds the persisted identity.
	return r.GetBySKU(ctx, transaction, product.TenantID, product.SKU)
}

func (r *productRepo) GetBySKU(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, sku string) (*types.Product, error) {
	if tenantID == uuid.Nil || sku == "" {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var product types.Product
	err = transaction.WithContext(ctx).
		Where("tenant_id = ? AND sku = ?", tenantID, sku).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) ListBySourcePO(ctx context.Context, tx *gorm.DB, poID uuid.UUID) ([]*types.Product, error) {
	var out []*types.Product
	if poID == uuid.Nil {
		return out, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	err = transaction.WithContext(ctx).
		Where("source_po = ?", poID).
		Order("sku ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AttachImage is idempotent on (product_id, storage_key): a retried images
// job does not attach the same image twice.
func (r *productRepo) AttachImage(ctx context.Context, tx *gorm.DB, image *types.ProductImage) error {
	if image == nil || image.ProductID == uuid.Nil || image.StorageKey == "" {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	var count int64
	err = transaction.WithContext(ctx).
		Model(&types.ProductImage{}).
		Where("product_id = ? AND storage_key = ?", image.ProductID, image.StorageKey).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if image.ID == uuid.Nil {
		image.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(image).Error
}

func (r *productRepo) ListImages(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]*types.ProductImage, error) {
	var out []*types.ProductImage
	if productID == uuid.Nil {
		return out, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	err = transaction.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("position ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Product{}).
		Where("id = ?", id).
		Updates(updates).Error
}
