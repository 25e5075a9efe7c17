package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type StageResultRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, runID uuid.UUID, stage string, payload datatypes.JSON) error
	ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.StageResult, error)
	DeleteByRuns(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error
}

type stageResultRepo struct {
	conn db.Conn
	log  *logger.Logger
}

func NewStageResultRepo(conn db.Conn, baseLog *logger.Logger) StageResultRepo {
	return &stageResultRepo{
		conn: conn,
		log:  baseLog.With("repo", "StageResultRepo"),
	}
}

// Upsert makes stage writes idempotent: a retried stage overwrites its own
// previous payload rather than appending a second row.
func (r *stageResultRepo) Upsert(ctx context.Context, tx *gorm.DB, runID uuid.UUID, stage string, payload datatypes.JSON) error {
	if runID == uuid.Nil || stage == "" {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		payload = datatypes.JSON([]byte(`{}`))
	}
	row := &types.StageResult{
		ID:        uuid.New(),
		RunID:     runID,
		Stage:     stage,
		Payload:   payload,
		WrittenAt: time.Now(),
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "stage"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "written_at"}),
		}).
		Create(row).Error
}

func (r *stageResultRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.StageResult, error) {
	var out []*types.StageResult
	if runID == uuid.Nil {
		return out, nil
	}
	transaction, err := session(ctx, r.conn, tx, true)
	if err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stageResultRepo) DeleteByRuns(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error {
	if len(runIDs) == 0 {
		return nil
	}
	transaction, err := session(ctx, r.conn, tx, false)
	if err != nil {
		return err
	}
	return transaction.WithContext(ctx).
		Where("run_id IN ?", runIDs).
		Delete(&types.StageResult{}).Error
}
