package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type TenantRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tenant *types.Tenant) (*types.Tenant, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Tenant, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Tenant, error)
}

type tenantRepo struct {
	conn db.Conn
	log  *logger.Logger
}

func NewTenantRepo(conn db.Conn, baseLog *logger.Logger) TenantRepo {
	return &tenantRepo{
		conn: conn,
		log:  baseLog.With("repo", "TenantRepo"),
	}
}

func (r *tenantRepo) Create(ctx context.Context, tx *gorm.DB, tenant *types.Tenant) (*types.Tenant, error) {
	if tenant == nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).Create(tenant).Error; err != nil {
		return nil, err
	}
	return tenant, nil
}

func (r *tenantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Tenant, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var tenant types.Tenant
	err = transaction.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Tenant, error) {
	if name == "" {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var tenant types.Tenant
	err = transaction.WithContext(ctx).Where("name = ?", name).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
