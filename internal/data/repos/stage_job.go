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

type StageJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.StageJob) ([]*types.StageJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.StageJob, error)
	ClaimNext(ctx context.Context, tx *gorm.DB, queue string, lockDuration time.Duration) (*types.StageJob, error)
	MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Requeue(ctx context.Context, tx *gorm.DB, id uuid.UUID, runAfter time.Time, lastError string) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, lastError string) error
	ClaimExpired(ctx context.Context, tx *gorm.DB, limit int) ([]*types.StageJob, error)
	MoveToDeadLetter(ctx context.Context, tx *gorm.DB, job *types.StageJob, lastError string) error
	HasRunnable(ctx context.Context, tx *gorm.DB, runID uuid.UUID, queue string) (bool, error)
}

type stageJobRepo struct {
	conn db.Conn
	log  *logger.Logger
}

func NewStageJobRepo(conn db.Conn, baseLog *logger.Logger) StageJobRepo {
	return &stageJobRepo{
		conn: conn,
		log:  baseLog.With("repo", "StageJobRepo"),
	}
}

func (r *stageJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.StageJob) ([]*types.StageJob, error) {
	if len(jobs) == 0 {
		return []*types.StageJob{}, nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *stageJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.StageJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	var job types.StageJob
	err = transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNext takes the oldest runnable job on a queue. FOR UPDATE SKIP LOCKED
// keeps concurrent workers from claiming the same row; locked_until is sized
// by the caller to that queue's worst-case stage latency.
func (r *stageJobRepo) ClaimNext(ctx context.Context, tx *gorm.DB, queue string, lockDuration time.Duration) (*types.StageJob, error) {
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	lockedUntil := now.Add(lockDuration)
	var claimed *types.StageJob
	err = transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.StageJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND (run_after IS NULL OR run_after <= ?)", queue, types.JobStatusQueued, now).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.StageJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_until": lockedUntil,
				"run_after":    nil,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.LockedUntil = &lockedUntil
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *stageJobRepo) MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.StageJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       types.JobStatusSucceeded,
			"locked_until": nil,
			"updated_at":   now,
		}).Error
}

func (r *stageJobRepo) Requeue(ctx context.Context, tx *gorm.DB, id uuid.UUID, runAfter time.Time, lastError string) error {
	if id == uuid.Nil {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.StageJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.JobStatusQueued,
			"run_after":     runAfter,
			"locked_until":  nil,
			"last_error":    lastError,
			"last_error_at": now,
			"updated_at":    now,
		}).Error
}

func (r *stageJobRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, lastError string) error {
	if id == uuid.Nil {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.StageJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.JobStatusFailed,
			"locked_until":  nil,
			"last_error":    lastError,
			"last_error_at": now,
			"updated_at":    now,
		}).Error
}

// ClaimExpired collects running jobs whose lock lapsed without a completion
// signal. Rows are flipped to failed inside the claim transaction so a
// concurrent sweep cannot pick them up again.
func (r *stageJobRepo) ClaimExpired(ctx context.Context, tx *gorm.DB, limit int) ([]*types.StageJob, error) {
	if limit <= 0 {
		limit = 50
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var claimed []*types.StageJob
	err = transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var jobs []*types.StageJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND locked_until IS NOT NULL AND locked_until < ?", types.JobStatusRunning, now).
			Order("locked_until ASC").
			Limit(limit).
			Find(&jobs).Error
		if qErr != nil {
			return qErr
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		if uErr := txx.Model(&types.StageJob{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":        types.JobStatusFailed,
				"locked_until":  nil,
				"last_error":    "lock expired",
				"last_error_at": now,
				"updated_at":    now,
			}).Error; uErr != nil {
			return uErr
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *stageJobRepo) MoveToDeadLetter(ctx context.Context, tx *gorm.DB, job *types.StageJob, lastError string) error {
	if job == nil || job.ID == uuid.Nil {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	now := time.Now()
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dead := &types.DeadLetterJob{
			ID:        uuid.New(),
			JobID:     job.ID,
			Queue:     job.Queue,
			RunID:     job.RunID,
			TenantID:  job.TenantID,
			Payload:   job.Payload,
			Attempts:  job.Attempts,
			LastError: lastError,
			DeadAt:    now,
		}
		if err := txx.Create(dead).Error; err != nil {
			return err
		}
		return txx.Model(&types.StageJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":        types.JobStatusDead,
				"locked_until":  nil,
				"last_error":    lastError,
				"last_error_at": now,
				"updated_at":    now,
			}).Error
	})
}

func (r *stageJobRepo) HasRunnable(ctx context.Context, tx *gorm.DB, runID uuid.UUID, queue string) (bool, error) {
	if runID == uuid.Nil {
		return false, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return false, err
	}
	var count int64
	q := transaction.WithContext(ctx).
		Model(&types.StageJob{}).
		Where("run_id = ? AND status IN ?", runID, []string{types.JobStatusQueued, types.JobStatusRunning})
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
