package queue

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// Manager is the enqueue side of the job system. Each stage has its own
// queue so slow stages never starve fast ones.
type Manager struct {
	jobs repos.StageJobRepo
	log  *logger.Logger
}

func NewManager(jobs repos.StageJobRepo, baseLog *logger.Logger) *Manager {
	return &Manager{
		jobs: jobs,
		log:  baseLog.With("component", "QueueManager"),
	}
}

// EnqueueStage creates one queued job for a run on the stage's queue.
// Enqueueing inside the caller's transaction keeps run-state writes and
// their follow-up jobs atomic.
func (m *Manager) EnqueueStage(ctx context.Context, tx *gorm.DB, stage string, runID, tenantID uuid.UUID, payload datatypes.JSON) error {
	spec, ok := workflow.StageByName(stage)
	if !ok {
		return workflow.ValidationError("enqueue: unknown stage " + stage)
	}
	if len(payload) == 0 {
		payload = datatypes.JSON([]byte(`{}`))
	}
	job := &types.StageJob{
		ID:          uuid.New(),
		Queue:       spec.Queue,
		RunID:       runID,
		TenantID:    tenantID,
		Status:      types.JobStatusQueued,
		MaxAttempts: spec.MaxAttempts,
		Payload:     payload,
	}
	if _, err := m.jobs.Create(ctx, tx, []*types.StageJob{job}); err != nil {
		return err
	}
	m.log.Debug("job enqueued",
		"queue", spec.Queue, "run_id", runID.String(), "job_id", job.ID.String())
	return nil
}
