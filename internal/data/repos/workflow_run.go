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

type WorkflowRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.WorkflowRun) (*types.WorkflowRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WorkflowRun, error)
	GetByUpload(ctx context.Context, tx *gorm.DB, tenantID, uploadID uuid.UUID) (*types.WorkflowRun, error)
	ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, limit, offset int) ([]*types.WorkflowRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, blockedStatuses []string, updates map[string]interface{}) (bool, error)
	ClaimStalled(ctx context.Context, tx *gorm.DB, staleness time.Duration, limit int) ([]*types.WorkflowRun, error)
	ListTerminalBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type workflowRunRepo struct {
	conn db.Conn
	log  *logger.Logger
}

func NewWorkflowRunRepo(conn db.Conn, baseLog *logger.Logger) WorkflowRunRepo {
	return &workflowRunRepo{
		conn: conn,
		log:  baseLog.With("repo", "WorkflowRunRepo"),
	}
}

func (r *workflowRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.WorkflowRun) (*types.WorkflowRun, error) {
	if run == nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *workflowRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WorkflowRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var run types.WorkflowRun
	err = transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *workflowRunRepo) GetByUpload(ctx context.Context, tx *gorm.DB, tenantID, uploadID uuid.UUID) (*types.WorkflowRun, error) {
	if tenantID == uuid.Nil || uploadID == uuid.Nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var run types.WorkflowRun
	err = transaction.WithContext(ctx).
		Where("tenant_id = ? AND upload_id = ?", tenantID, uploadID).
		Order("created_at DESC").
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *workflowRunRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, limit, offset int) ([]*types.WorkflowRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var out []*types.WorkflowRun
	err = transaction.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workflowRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.WorkflowRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only while the run is not in one
// of the blocked statuses. Returns false when the guard rejected the write,
// which is how late stage completions observe a terminalized run and no-op.
func (r *workflowRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, blockedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return false, err
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(ctx).
		Model(&types.WorkflowRun{}).
		Where("id = ?", id)
	if len(blockedStatuses) > 0 {
		q = q.Where("status NOT IN ?", blockedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimStalled picks runs stuck in processing past the staleness threshold.
// SKIP LOCKED plus the updated_at bump keeps two concurrent sweeps from
// double-processing the same run.
func (r *workflowRunRepo) ClaimStalled(ctx context.Context, tx *gorm.DB, staleness time.Duration, limit int) ([]*types.WorkflowRun, error) {
	if limit <= 0 {
		limit = 20
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	cutoff := now.Add(-staleness)
	var claimed []*types.WorkflowRun
	err = transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var runs []*types.WorkflowRun
		err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND updated_at < ?", types.RunStatusProcessing, cutoff).
			Order("updated_at ASC").
			Limit(limit).
			Find(&runs).Error
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(runs))
		for _, run := range runs {
			ids = append(ids, run.ID)
		}
		if err := txx.Model(&types.WorkflowRun{}).
			Where("id IN ?", ids).
			Update("updated_at", now).Error; err != nil {
			return err
		}
		claimed = runs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *workflowRunRepo) ListTerminalBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	err = transaction.WithContext(ctx).
		Model(&types.WorkflowRun{}).
		Where("status IN ? AND updated_at < ?", []string{types.RunStatusCompleted, types.RunStatusNeedsReview, types.RunStatusFailed}, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
