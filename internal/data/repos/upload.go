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

type UploadRepo interface {
	Create(ctx context.Context, tx *gorm.DB, upload *types.DocumentUpload) (*types.DocumentUpload, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DocumentUpload, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type uploadRepo struct {
	conn db.Conn
	log  *logger.Logger
}

func NewUploadRepo(conn db.Conn, baseLog *logger.Logger) UploadRepo {
	return &uploadRepo{
		conn: conn,
		log:  baseLog.With("repo", "UploadRepo"),
	}
}

func (r *uploadRepo) Create(ctx context.Context, tx *gorm.DB, upload *types.DocumentUpload) (*types.DocumentUpload, error) {
	if upload == nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).Create(upload).Error; err != nil {
		return nil, err
	}
	return upload, nil
}

func (r *uploadRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DocumentUpload, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var upload types.DocumentUpload
	err = transaction.WithContext(ctx).Where("id = ?", id).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

func (r *uploadRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.DocumentUpload{}).
		Where("id = ?", id).
		Updates(updates).Error
}
