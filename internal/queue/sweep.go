package queue

import (
	"context"
	"time"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// Sweeper handles jobs whose worker disappeared mid-flight: running rows
// with an expired lock get their budget checked and either go back on the
// queue or into the dead-letter table.
type Sweeper struct {
	jobs   repos.StageJobRepo
	engine *workflow.Engine
	retry  RetryPolicy
	log    *logger.Logger

	BatchLimit int
}

func NewSweeper(jobs repos.StageJobRepo, engine *workflow.Engine, baseLog *logger.Logger) *Sweeper {
	return &Sweeper{
		jobs:       jobs,
		engine:     engine,
		log:        baseLog.With("component", "QueueSweeper"),
		BatchLimit: 50,
	}
}

// SweepExpired reclaims lock-expired jobs. Returns counts of requeued and
// dead-lettered jobs.
func (s *Sweeper) SweepExpired(ctx context.Context) (requeued, dead int, err error) {
	expired, err := s.jobs.ClaimExpired(ctx, nil, s.BatchLimit)
	if err != nil {
		return 0, 0, err
	}

	for _, job := range expired {
		stage := stageForQueue(job.Queue)
		if job.Attempts < job.MaxAttempts {
			delay := ComputeBackoff(s.retry, job.Attempts)
			if rErr := s.jobs.Requeue(ctx, nil, job.ID, time.Now().Add(delay), "lock expired"); rErr != nil {
				s.log.Error("requeue of expired job failed",
					"job_id", job.ID.String(), "error", rErr)
				continue
			}
			requeued++
			continue
		}

		if dErr := s.jobs.MoveToDeadLetter(ctx, nil, job, "lock expired after final attempt"); dErr != nil {
			s.log.Error("dead-letter of expired job failed",
				"job_id", job.ID.String(), "error", dErr)
			continue
		}
		if fErr := s.engine.FailRun(ctx, job.RunID, stage,
			workflow.FatalError("stage abandoned after repeated lock expiry")); fErr != nil {
			s.log.Error("fail run for dead job failed",
				"run_id", job.RunID.String(), "error", fErr)
		}
		dead++
	}

	if requeued > 0 || dead > 0 {
		s.log.Info("expired job sweep finished", "requeued", requeued, "dead", dead)
	}
	return requeued, dead, nil
}

func stageForQueue(queue string) string {
	for _, spec := range workflow.Stages() {
		if spec.Queue == queue {
			return spec.Name
		}
	}
	return queue
}
