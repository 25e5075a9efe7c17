package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/envutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// ConfidenceThreshold is the finalize cutoff: runs at or above it complete,
// runs below land in needs_review for a human pass.
const ConfidenceThreshold = 0.80

// terminalStatuses guard every late write: once a run is terminal, nothing
// moves it again.
var terminalStatuses = []string{
	types.RunStatusCompleted,
	types.RunStatusNeedsReview,
	types.RunStatusFailed,
}

// Enqueuer puts a stage job on its queue. Implemented by the queue manager;
// an interface here keeps the engine free of queue internals.
type Enqueuer interface {
	EnqueueStage(ctx context.Context, tx *gorm.DB, stage string, runID, tenantID uuid.UUID, payload datatypes.JSON) error
}

// Notifier receives run lifecycle events for fan-out to clients.
type Notifier interface {
	RunStage(ctx context.Context, tenantID, runID uuid.UUID, stage string)
	RunProgress(ctx context.Context, tenantID, runID uuid.UUID, stage string, pct int)
	RunCompletion(ctx context.Context, tenantID, runID uuid.UUID, status string)
	RunError(ctx context.Context, tenantID, runID uuid.UUID, stage, message string)
}

// DuplicateGuard fences concurrent run starts for the same upload.
type DuplicateGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Engine is the workflow state machine. It owns run status transitions,
// stage handoff, retry bookkeeping, and the finalize confidence branch.
// Stage execution itself belongs to the queue workers.
type Engine struct {
	conn     db.Conn
	runs     repos.WorkflowRunRepo
	orders   repos.PurchaseOrderRepo
	store    *ResultStore
	enqueue  Enqueuer
	notify   Notifier
	guard    DuplicateGuard
	guardTTL time.Duration
	log      *logger.Logger
}

func NewEngine(
	conn db.Conn,
	runs repos.WorkflowRunRepo,
	orders repos.PurchaseOrderRepo,
	store *ResultStore,
	enqueue Enqueuer,
	notify Notifier,
	guard DuplicateGuard,
	baseLog *logger.Logger,
) *Engine {
	return &Engine{
		conn:     conn,
		runs:     runs,
		orders:   orders,
		store:    store,
		enqueue:  enqueue,
		notify:   notify,
		guard:    guard,
		guardTTL: envutil.Duration("RUN_GUARD_WINDOW", 10*time.Minute),
		log:      baseLog.With("component", "WorkflowEngine"),
	}
}

// StartRun creates a run for an upload and enqueues the first stage.
// The duplicate guard plus an active-run check makes a double-submitted
// upload start exactly one pipeline.
func (e *Engine) StartRun(ctx context.Context, tenantID, uploadID uuid.UUID) (*types.WorkflowRun, error) {
	if tenantID == uuid.Nil || uploadID == uuid.Nil {
		return nil, ValidationError("start run: missing tenant or upload id")
	}

	// The guard stays held for its whole window once the run is created;
	// releasing it early would shrink the dedupe window to the duration of
	// this call. It is released only when run creation fails, so the next
	// trigger can try again.
	guardKey := "run:start:" + tenantID.String() + ":" + uploadID.String()
	guardHeld := false
	if e.guard != nil {
		ok, err := e.guard.Acquire(ctx, guardKey, e.guardTTL)
		if err != nil {
			e.log.Warn("duplicate guard unavailable, falling back to db check",
				"upload_id", uploadID.String(), "error", err)
		} else if !ok {
			return e.awaitExistingRun(ctx, tenantID, uploadID)
		} else {
			guardHeld = true
		}
	}

	existing, err := e.runs.GetByUpload(ctx, nil, tenantID, uploadID)
	if err != nil {
		if guardHeld {
			_ = e.guard.Release(ctx, guardKey)
		}
		return nil, err
	}
	if existing != nil && !existing.Terminal() {
		return existing, ErrDuplicateRun
	}

	run := &types.WorkflowRun{
		ID:           uuid.New(),
		TenantID:     tenantID,
		UploadID:     uploadID,
		Status:       types.RunStatusPending,
		CurrentStage: FirstStage().Name,
		Progress:     0,
		RetryCounts:  datatypes.JSON([]byte("{}")),
	}

	handle, err := e.conn.Handle(ctx, false)
	if err != nil {
		if guardHeld {
			_ = e.guard.Release(ctx, guardKey)
		}
		return nil, err
	}
	err = handle.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := e.runs.Create(ctx, tx, run); err != nil {
			return err
		}
		if err := e.enqueue.EnqueueStage(ctx, tx, FirstStage().Name, run.ID, tenantID, nil); err != nil {
			return err
		}
		return e.runs.UpdateFields(ctx, tx, run.ID, map[string]interface{}{
			"status": types.RunStatusProcessing,
		})
	})
	if err != nil {
		if guardHeld {
			_ = e.guard.Release(ctx, guardKey)
		}
		return nil, err
	}
	run.Status = types.RunStatusProcessing

	if e.notify != nil {
		e.notify.RunStage(ctx, tenantID, run.ID, FirstStage().Name)
	}
	e.log.Info("run started", "run_id", run.ID.String(), "tenant_id", tenantID.String())
	return run, nil
}

// awaitExistingRun serves the losing side of a duplicate start: the winner
// holds the guard but its creating transaction may not have committed yet,
// so the lookup retries briefly until the run row is visible. The caller
// still gets ErrDuplicateRun either way; with the run attached when found.
func (e *Engine) awaitExistingRun(ctx context.Context, tenantID, uploadID uuid.UUID) (*types.WorkflowRun, error) {
	for attempt := 0; attempt < 10; attempt++ {
		existing, err := e.runs.GetByUpload(ctx, nil, tenantID, uploadID)
		if err == nil && existing != nil {
			return existing, ErrDuplicateRun
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, ErrDuplicateRun
}

// CompleteStage records a stage's output and hands off to the next stage.
// The status guard makes late completions on a terminalized run a no-op:
// the stage result still lands (harmless, idempotent) but the run does not
// move and no next-stage job is enqueued.
func (e *Engine) CompleteStage(ctx context.Context, run *types.WorkflowRun, stage string, payload interface{}) error {
	spec, ok := StageByName(stage)
	if !ok {
		return ValidationError("complete stage: unknown stage " + stage)
	}

	if payload != nil {
		if err := e.store.Put(ctx, nil, run.ID, stage, payload); err != nil {
			return err
		}
	}

	if stage == StageFinalize {
		return e.finalize(ctx, run)
	}

	next, hasNext := NextStage(stage)
	if !hasNext {
		return e.finalize(ctx, run)
	}

	handle, err := e.conn.Handle(ctx, false)
	if err != nil {
		return err
	}
	var moved bool
	err = handle.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := e.runs.UpdateFieldsUnlessStatus(ctx, tx, run.ID, terminalStatuses, map[string]interface{}{
			"current_stage": next.Name,
			"progress":      spec.PctEnd,
		})
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		moved = true
		return e.enqueue.EnqueueStage(ctx, tx, next.Name, run.ID, run.TenantID, nil)
	})
	if err != nil {
		return err
	}
	if !moved {
		e.log.Info("stage completed after run terminalized, dropping handoff",
			"run_id", run.ID.String(), "stage", stage)
		return nil
	}

	if e.notify != nil {
		e.notify.RunProgress(ctx, run.TenantID, run.ID, stage, spec.PctEnd)
		e.notify.RunStage(ctx, run.TenantID, run.ID, next.Name)
	}
	return nil
}

// ReportProgress surfaces within-stage progress on the global bar without
// moving the run's stage.
func (e *Engine) ReportProgress(ctx context.Context, run *types.WorkflowRun, stage string, frac float64) error {
	pct := StagePct(stage, frac)
	applied, err := e.runs.UpdateFieldsUnlessStatus(ctx, nil, run.ID, terminalStatuses, map[string]interface{}{
		"progress": pct,
	})
	if err != nil {
		return err
	}
	if applied && e.notify != nil {
		e.notify.RunProgress(ctx, run.TenantID, run.ID, stage, pct)
	}
	return nil
}

// finalize reads the run's accumulated confidence and terminalizes:
// confident runs complete, uncertain ones go to needs_review.
func (e *Engine) finalize(ctx context.Context, run *types.WorkflowRun) error {
	var acc struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := e.store.MergedInto(ctx, nil, run.ID, &acc); err != nil {
		return err
	}

	status := types.RunStatusNeedsReview
	confidence := 0.0
	if acc.Confidence != nil {
		confidence = *acc.Confidence
		if confidence >= ConfidenceThreshold {
			status = types.RunStatusCompleted
		}
	}

	applied, err := e.runs.UpdateFieldsUnlessStatus(ctx, nil, run.ID, terminalStatuses, map[string]interface{}{
		"status":        status,
		"current_stage": StageFinalize,
		"progress":      100,
		"confidence":    confidence,
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if e.notify != nil {
		e.notify.RunProgress(ctx, run.TenantID, run.ID, StageFinalize, 100)
		e.notify.RunCompletion(ctx, run.TenantID, run.ID, status)
	}
	e.log.Info("run finalized",
		"run_id", run.ID.String(), "status", status, "confidence", confidence)
	return nil
}

// RecordStageFailure increments the run's per-stage retry count and stores
// the error for the status endpoint. Returns the new count for that stage.
func (e *Engine) RecordStageFailure(ctx context.Context, runID uuid.UUID, stage string, cause error) (int, error) {
	run, err := e.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return 0, err
	}
	if run == nil {
		return 0, ValidationError("record failure: run not found")
	}

	counts := map[string]int{}
	if len(run.RetryCounts) > 0 {
		_ = json.Unmarshal(run.RetryCounts, &counts)
	}
	counts[stage]++
	raw, err := json.Marshal(counts)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	_, err = e.runs.UpdateFieldsUnlessStatus(ctx, nil, runID, terminalStatuses, map[string]interface{}{
		"retry_counts":  datatypes.JSON(raw),
		"last_error":    cause.Error(),
		"last_error_at": now,
	})
	if err != nil {
		return 0, err
	}

	if e.notify != nil {
		e.notify.RunError(ctx, run.TenantID, runID, stage, cause.Error())
	}
	return counts[stage], nil
}

// FailRun terminalizes a run as failed. Idempotent: an already-terminal
// run is left alone.
func (e *Engine) FailRun(ctx context.Context, runID uuid.UUID, stage string, cause error) error {
	run, err := e.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}

	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now()
	applied, err := e.runs.UpdateFieldsUnlessStatus(ctx, nil, runID, terminalStatuses, map[string]interface{}{
		"status":        types.RunStatusFailed,
		"current_stage": stage,
		"last_error":    msg,
		"last_error_at": now,
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if e.notify != nil {
		e.notify.RunError(ctx, run.TenantID, runID, stage, msg)
		e.notify.RunCompletion(ctx, run.TenantID, runID, types.RunStatusFailed)
	}
	e.log.Warn("run failed", "run_id", runID.String(), "stage", stage, "error", msg)
	return nil
}

// RetryRun re-enqueues a failed run from a given stage. Used by the manual
// retry endpoint; the run flips back to processing and its stage job is
// queued fresh.
func (e *Engine) RetryRun(ctx context.Context, runID uuid.UUID, fromStage string) (*types.WorkflowRun, error) {
	run, err := e.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ValidationError("retry: run not found")
	}
	if run.Status != types.RunStatusFailed && run.Status != types.RunStatusNeedsReview {
		return nil, ValidationError("retry: run is not in a retryable state")
	}

	stage := fromStage
	if stage == "" {
		stage = run.CurrentStage
	}
	spec, ok := StageByName(stage)
	if !ok {
		return nil, ValidationError("retry: unknown stage " + stage)
	}

	handle, err := e.conn.Handle(ctx, false)
	if err != nil {
		return nil, err
	}
	err = handle.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.runs.UpdateFields(ctx, tx, runID, map[string]interface{}{
			"status":        types.RunStatusProcessing,
			"current_stage": spec.Name,
			"progress":      spec.PctStart,
			"last_error":    "",
		}); err != nil {
			return err
		}
		return e.enqueue.EnqueueStage(ctx, tx, spec.Name, run.ID, run.TenantID, nil)
	})
	if err != nil {
		return nil, err
	}

	run.Status = types.RunStatusProcessing
	run.CurrentStage = spec.Name
	if e.notify != nil {
		e.notify.RunStage(ctx, run.TenantID, run.ID, spec.Name)
	}
	e.log.Info("run retried", "run_id", runID.String(), "stage", spec.Name)
	return run, nil
}
