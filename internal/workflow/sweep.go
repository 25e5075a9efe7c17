package workflow

import (
	"context"
	"time"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/envutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// Sweeper recovers runs that stopped moving: crashed workers, lost jobs,
// or completions that never landed. Designed to be safe under concurrent
// invocation; claims are skip-locked and every write is status-guarded.
type Sweeper struct {
	runs    repos.WorkflowRunRepo
	jobs    repos.StageJobRepo
	orders  repos.PurchaseOrderRepo
	results repos.StageResultRepo
	engine  *Engine
	enqueue Enqueuer
	log     *logger.Logger

	Staleness  time.Duration
	BatchLimit int
	ResultTTL  time.Duration
}

func NewSweeper(
	runs repos.WorkflowRunRepo,
	jobs repos.StageJobRepo,
	orders repos.PurchaseOrderRepo,
	results repos.StageResultRepo,
	engine *Engine,
	enqueue Enqueuer,
	baseLog *logger.Logger,
) *Sweeper {
	return &Sweeper{
		runs:       runs,
		jobs:       jobs,
		orders:     orders,
		results:    results,
		engine:     engine,
		enqueue:    enqueue,
		log:        baseLog.With("component", "WorkflowSweeper"),
		Staleness:  envutil.Duration("RUN_STALENESS_THRESHOLD", 15*time.Minute),
		BatchLimit: envutil.Int("RUN_SWEEP_BATCH_LIMIT", 20),
		ResultTTL:  envutil.Duration("RESULT_RETENTION", 7*24*time.Hour),
	}
}

// RecoverStalled finds processing runs that have not moved within the
// staleness window and repairs each one:
//   - downstream entity already exists (order lines persisted): the run
//     finished its real work but the completion write was lost, so it is
//     finalized rather than re-run;
//   - a runnable job still exists for the run: leave it alone, the queue
//     will get to it;
//   - otherwise: re-enqueue the run's current stage.
//
// Returns the number of runs repaired.
func (s *Sweeper) RecoverStalled(ctx context.Context) (int, error) {
	claimed, err := s.runs.ClaimStalled(ctx, nil, s.Staleness, s.BatchLimit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, run := range claimed {
		if err := s.recoverOne(ctx, run); err != nil {
			s.log.Warn("stalled run recovery failed",
				"run_id", run.ID.String(), "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

func (s *Sweeper) recoverOne(ctx context.Context, run *types.WorkflowRun) error {
	persisted, err := s.orders.HasPersistedLines(ctx, nil, run.ID)
	if err != nil {
		return err
	}
	if persisted && StageOrder(run.CurrentStage) <= StageOrder(StagePersist) {
		// The persist stage landed but the run record never advanced.
		// Finalizing through the engine keeps the confidence branch and
		// notifications identical to the normal path.
		s.log.Info("stalled run has persisted order, finalizing",
			"run_id", run.ID.String(), "stage", run.CurrentStage)
		return s.engine.finalize(ctx, run)
	}

	runnable, err := s.jobs.HasRunnable(ctx, nil, run.ID, "")
	if err != nil {
		return err
	}
	if runnable {
		return nil
	}

	stage := run.CurrentStage
	if _, ok := StageByName(stage); !ok {
		stage = FirstStage().Name
	}
	s.log.Info("re-enqueueing stalled run",
		"run_id", run.ID.String(), "stage", stage)
	return s.enqueue.EnqueueStage(ctx, nil, stage, run.ID, run.TenantID, nil)
}

// ClearExpiredResults deletes stage results for runs that have been
// terminal longer than the retention window. The run rows themselves stay;
// only the per-stage scratch payloads go.
func (s *Sweeper) ClearExpiredResults(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ResultTTL)
	ids, err := s.runs.ListTerminalBefore(ctx, nil, cutoff, 200)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.results.DeleteByRuns(ctx, nil, ids); err != nil {
		return 0, err
	}
	s.log.Info("cleared expired stage results", "runs", len(ids))
	return len(ids), nil
}
