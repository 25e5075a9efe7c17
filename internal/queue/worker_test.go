package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type stubJobs struct {
	mu        sync.Mutex
	requeued  map[uuid.UUID]int
	dead      map[uuid.UUID]bool
	failed    map[uuid.UUID]bool
	succeeded map[uuid.UUID]bool
}

func newStubJobs() *stubJobs {
	return &stubJobs{
		requeued:  map[uuid.UUID]int{},
		dead:      map[uuid.UUID]bool{},
		failed:    map[uuid.UUID]bool{},
		succeeded: map[uuid.UUID]bool{},
	}
}

func (s *stubJobs) Create(_ context.Context, _ *gorm.DB, jobs []*types.StageJob) ([]*types.StageJob, error) {
	return jobs, nil
}

func (s *stubJobs) GetByID(_ context.Context, _ *gorm.DB, _ uuid.UUID) (*types.StageJob, error) {
	return nil, nil
}

func (s *stubJobs) ClaimNext(_ context.Context, _ *gorm.DB, _ string, _ time.Duration) (*types.StageJob, error) {
	return nil, nil
}

func (s *stubJobs) MarkSucceeded(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded[id] = true
	return nil
}

func (s *stubJobs) Requeue(_ context.Context, _ *gorm.DB, id uuid.UUID, _ time.Time, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeued[id]++
	return nil
}

func (s *stubJobs) MarkFailed(_ context.Context, _ *gorm.DB, id uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = true
	return nil
}

func (s *stubJobs) ClaimExpired(_ context.Context, _ *gorm.DB, _ int) ([]*types.StageJob, error) {
	return nil, nil
}

func (s *stubJobs) MoveToDeadLetter(_ context.Context, _ *gorm.DB, job *types.StageJob, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[job.ID] = true
	return nil
}

func (s *stubJobs) HasRunnable(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ string) (bool, error) {
	return false, nil
}

type stubRuns struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*types.WorkflowRun
	getErr error
}

func newStubRuns() *stubRuns {
	return &stubRuns{rows: map[uuid.UUID]*types.WorkflowRun{}}
}

func (s *stubRuns) Create(_ context.Context, _ *gorm.DB, run *types.WorkflowRun) (*types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[run.ID] = run
	return run, nil
}

func (s *stubRuns) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.rows[id], nil
}

func (s *stubRuns) GetByUpload(_ context.Context, _ *gorm.DB, _, _ uuid.UUID) (*types.WorkflowRun, error) {
	return nil, nil
}

func (s *stubRuns) ListByTenant(_ context.Context, _ *gorm.DB, _ uuid.UUID, _, _ int) ([]*types.WorkflowRun, error) {
	return nil, nil
}

func (s *stubRuns) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(id, updates)
	return nil
}

func (s *stubRuns) UpdateFieldsUnlessStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, blockedStatuses []string, updates map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	for _, blocked := range blockedStatuses {
		if run.Status == blocked {
			return false, nil
		}
	}
	s.apply(id, updates)
	return true, nil
}

func (s *stubRuns) apply(id uuid.UUID, updates map[string]interface{}) {
	run, ok := s.rows[id]
	if !ok {
		return
	}
	if v, ok := updates["status"]; ok {
		run.Status = v.(string)
	}
	if v, ok := updates["current_stage"]; ok {
		run.CurrentStage = v.(string)
	}
	if v, ok := updates["last_error"]; ok {
		run.LastError = v.(string)
	}
	if v, ok := updates["retry_counts"]; ok {
		run.RetryCounts = v.(datatypes.JSON)
	}
}

func (s *stubRuns) ClaimStalled(_ context.Context, _ *gorm.DB, _ time.Duration, _ int) ([]*types.WorkflowRun, error) {
	return nil, nil
}

func (s *stubRuns) ListTerminalBefore(_ context.Context, _ *gorm.DB, _ time.Time, _ int) ([]uuid.UUID, error) {
	return nil, nil
}

type stubResults struct{}

func (stubResults) Upsert(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ string, _ datatypes.JSON) error {
	return nil
}

func (stubResults) ListByRun(_ context.Context, _ *gorm.DB, _ uuid.UUID) ([]*types.StageResult, error) {
	return nil, nil
}

func (stubResults) DeleteByRuns(_ context.Context, _ *gorm.DB, _ []uuid.UUID) error { return nil }

type workerFixture struct {
	jobs   *stubJobs
	runs   *stubRuns
	worker *Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	jobs := newStubJobs()
	runs := newStubRuns()
	store := workflow.NewResultStore(stubResults{}, testLogger(t))
	engine := workflow.NewEngine(db.Fixed(nil), runs, nil, store, nil, nil, nil, testLogger(t))
	return &workerFixture{
		jobs:   jobs,
		runs:   runs,
		worker: NewWorker(jobs, runs, engine, NewRegistry(), testLogger(t)),
	}
}

func seedJob(f *workerFixture, spec workflow.StageSpec, attempts int) (*types.WorkflowRun, *types.StageJob) {
	run := &types.WorkflowRun{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		UploadID:     uuid.New(),
		Status:       types.RunStatusProcessing,
		CurrentStage: spec.Name,
		RetryCounts:  datatypes.JSON([]byte("{}")),
	}
	f.runs.rows[run.ID] = run
	job := &types.StageJob{
		ID:          uuid.New(),
		Queue:       spec.Queue,
		RunID:       run.ID,
		TenantID:    run.TenantID,
		Status:      types.JobStatusRunning,
		Attempts:    attempts,
		MaxAttempts: spec.MaxAttempts,
	}
	return run, job
}

func TestWorkerRetryableFailureUnderBudgetRequeues(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	spec := workflow.FirstStage()
	run, job := seedJob(f, spec, 1)

	f.worker.handleFailure(ctx, spec, job, workflow.RetryableError("upstream timeout"))

	if f.jobs.requeued[job.ID] != 1 {
		t.Fatalf("requeued %d times, want 1", f.jobs.requeued[job.ID])
	}
	if f.jobs.dead[job.ID] {
		t.Fatalf("job dead-lettered with retry budget remaining")
	}
	if run.Status != types.RunStatusProcessing {
		t.Fatalf("run status = %q, a retryable failure under budget must not terminalize", run.Status)
	}
}

func TestWorkerRetryBudgetExhaustedFailsRun(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	spec := workflow.FirstStage()
	run, job := seedJob(f, spec, spec.MaxAttempts)

	f.worker.handleFailure(ctx, spec, job, workflow.RetryableError("upstream timeout"))

	if !f.jobs.dead[job.ID] {
		t.Fatalf("exhausted job must move to the dead letter table")
	}
	if f.jobs.requeued[job.ID] != 0 {
		t.Fatalf("exhausted job requeued %d times, want 0", f.jobs.requeued[job.ID])
	}
	if run.Status != types.RunStatusFailed {
		t.Fatalf("run status = %q, want failed after the retry ceiling, not stuck processing", run.Status)
	}
}

func TestWorkerRunLookupFailureRespectsRetryBudget(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	spec := workflow.FirstStage()
	_, job := seedJob(f, spec, spec.MaxAttempts)
	f.runs.getErr = workflow.RetryableError("read workflow_run: connection refused")

	f.worker.execute(ctx, spec, job)

	if f.jobs.requeued[job.ID] != 0 {
		t.Fatalf("lookup failure at the attempt ceiling requeued %d times, want 0", f.jobs.requeued[job.ID])
	}
	if !f.jobs.dead[job.ID] {
		t.Fatalf("lookup failure at the attempt ceiling must dead-letter, not cycle forever")
	}

	// Below the ceiling the same failure still buys another attempt.
	_, young := seedJob(f, spec, 1)
	f.worker.execute(ctx, spec, young)
	if f.jobs.requeued[young.ID] != 1 {
		t.Fatalf("lookup failure under budget requeued %d times, want 1", f.jobs.requeued[young.ID])
	}
	if f.jobs.dead[young.ID] {
		t.Fatalf("job dead-lettered with retry budget remaining")
	}
}
