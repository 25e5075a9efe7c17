package queue

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/envutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// StageFunc executes one stage for a claimed job. The returned payload is
// stored in the run's result store; a nil payload stores nothing.
type StageFunc func(ctx context.Context, run *types.WorkflowRun, job *types.StageJob) (interface{}, error)

// Registry maps stage names to their executors.
type Registry struct {
	funcs map[string]StageFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]StageFunc{}}
}

func (r *Registry) Register(stage string, fn StageFunc) {
	r.funcs[stage] = fn
}

func (r *Registry) Get(stage string) (StageFunc, bool) {
	fn, ok := r.funcs[stage]
	return fn, ok
}

// Worker drains the per-stage queues. Each stage gets its own claim loop
// so a backed-up extract queue cannot starve persist or sync.
type Worker struct {
	jobs     repos.StageJobRepo
	runs     repos.WorkflowRunRepo
	engine   *workflow.Engine
	registry *Registry
	retry    RetryPolicy
	log      *logger.Logger

	PollInterval time.Duration
	Concurrency  int
}

func NewWorker(
	jobs repos.StageJobRepo,
	runs repos.WorkflowRunRepo,
	engine *workflow.Engine,
	registry *Registry,
	baseLog *logger.Logger,
) *Worker {
	return &Worker{
		jobs:         jobs,
		runs:         runs,
		engine:       engine,
		registry:     registry,
		log:          baseLog.With("component", "QueueWorker"),
		PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 2),
	}
}

// Start runs claim loops for every stage queue until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	concurrency := w.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("starting worker pool",
		"queues", len(workflow.Stages()), "concurrency_per_queue", concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range workflow.Stages() {
		spec := spec
		for i := 0; i < concurrency; i++ {
			workerID := i + 1
			g.Go(func() error {
				w.runLoop(ctx, spec, workerID)
				return nil
			})
		}
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, spec workflow.StageSpec, workerID int) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker loop stopped", "queue", spec.Queue, "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.jobs.ClaimNext(ctx, nil, spec.Queue, spec.LockDuration)
			if err != nil {
				w.log.Warn("claim failed", "queue", spec.Queue, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, spec, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, spec workflow.StageSpec, job *types.StageJob) {
	run, err := w.runs.GetByID(ctx, nil, job.RunID)
	if err != nil {
		// Same budget as an executor failure; a run that cannot be read
		// must not cycle through the queue forever.
		w.log.Warn("run lookup failed",
			"job_id", job.ID.String(), "error", err)
		w.handleFailure(ctx, spec, job, err)
		return
	}
	if run == nil || run.Terminal() {
		// The run finished (or vanished) while this job sat queued.
		_ = w.jobs.MarkSucceeded(ctx, nil, job.ID)
		return
	}

	fn, ok := w.registry.Get(spec.Name)
	if !ok {
		w.failJob(ctx, job, spec.Name,
			workflow.FatalError("no executor registered for stage "+spec.Name))
		return
	}

	var payload interface{}
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("stage executor panic",
					"queue", spec.Queue, "job_id", job.ID.String(), "panic", r)
				runErr = fmt.Errorf("panic in stage %s: %v", spec.Name, r)
			}
		}()
		payload, runErr = fn(ctx, run, job)
	}()

	if runErr == nil {
		if err := w.jobs.MarkSucceeded(ctx, nil, job.ID); err != nil {
			w.log.Warn("mark succeeded failed", "job_id", job.ID.String(), "error", err)
		}
		if err := w.engine.CompleteStage(ctx, run, spec.Name, payload); err != nil {
			w.log.Error("stage handoff failed",
				"run_id", run.ID.String(), "stage", spec.Name, "error", err)
		}
		return
	}

	w.handleFailure(ctx, spec, job, runErr)
}

func (w *Worker) handleFailure(ctx context.Context, spec workflow.StageSpec, job *types.StageJob, cause error) {
	attempts, err := w.engine.RecordStageFailure(ctx, job.RunID, spec.Name, cause)
	if err != nil {
		w.log.Warn("recording stage failure failed",
			"run_id", job.RunID.String(), "error", err)
	}

	if !workflow.Retryable(cause) {
		w.log.Warn("fatal stage error",
			"queue", spec.Queue, "job_id", job.ID.String(), "error", cause)
		w.failJob(ctx, job, spec.Name, cause)
		return
	}

	if job.Attempts < job.MaxAttempts {
		delay := ComputeBackoff(w.retry, job.Attempts)
		w.log.Info("requeueing stage job",
			"queue", spec.Queue, "job_id", job.ID.String(),
			"attempt", job.Attempts, "stage_failures", attempts, "delay", delay.String())
		if err := w.jobs.Requeue(ctx, nil, job.ID, time.Now().Add(delay), cause.Error()); err != nil {
			w.log.Error("requeue failed", "job_id", job.ID.String(), "error", err)
		}
		return
	}

	w.log.Warn("retry budget exhausted, dead-lettering",
		"queue", spec.Queue, "job_id", job.ID.String(), "attempts", job.Attempts)
	if err := w.jobs.MoveToDeadLetter(ctx, nil, job, cause.Error()); err != nil {
		w.log.Error("dead-letter failed", "job_id", job.ID.String(), "error", err)
	}
	if err := w.engine.FailRun(ctx, job.RunID, spec.Name, cause); err != nil {
		w.log.Error("fail run failed", "run_id", job.RunID.String(), "error", err)
	}
}

func (w *Worker) failJob(ctx context.Context, job *types.StageJob, stage string, cause error) {
	if err := w.jobs.MarkFailed(ctx, nil, job.ID, cause.Error()); err != nil {
		w.log.Error("mark failed failed", "job_id", job.ID.String(), "error", err)
	}
	if err := w.engine.FailRun(ctx, job.RunID, stage, cause); err != nil {
		w.log.Error("fail run failed", "run_id", job.RunID.String(), "error", err)
	}
}
