package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/ordersight/ordersight-backend/internal/data/db"
	types "github.com/ordersight/ordersight-backend/internal/domain"
)

type fakeRunRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.WorkflowRun
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{rows: map[uuid.UUID]*types.WorkflowRun{}}
}

func (f *fakeRunRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeRunRepo) age(id uuid.UUID, by time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.rows[id]; ok {
		run.UpdatedAt = run.UpdatedAt.Add(by)
	}
}

func (f *fakeRunRepo) Create(_ context.Context, _ *gorm.DB, run *types.WorkflowRun) (*types.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	f.rows[run.ID] = run
	return run, nil
}

func (f *fakeRunRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id], nil
}

func (f *fakeRunRepo) GetByUpload(_ context.Context, _ *gorm.DB, tenantID, uploadID uuid.UUID) (*types.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.WorkflowRun
	for _, run := range f.rows {
		if run.TenantID != tenantID || run.UploadID != uploadID {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	return latest, nil
}

func (f *fakeRunRepo) ListByTenant(_ context.Context, _ *gorm.DB, tenantID uuid.UUID, _, _ int) ([]*types.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.WorkflowRun
	for _, run := range f.rows {
		if run.TenantID == tenantID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.rows[id]; ok {
		applyRunUpdates(run, updates)
	}
	return nil
}

func (f *fakeRunRepo) UpdateFieldsUnlessStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, blockedStatuses []string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	for _, blocked := range blockedStatuses {
		if run.Status == blocked {
			return false, nil
		}
	}
	applyRunUpdates(run, updates)
	return true, nil
}

func (f *fakeRunRepo) ClaimStalled(_ context.Context, _ *gorm.DB, staleness time.Duration, limit int) ([]*types.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-staleness)
	var out []*types.WorkflowRun
	for _, run := range f.rows {
		if len(out) >= limit {
			break
		}
		if run.Status == types.RunStatusProcessing && run.UpdatedAt.Before(cutoff) {
			run.UpdatedAt = time.Now()
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) ListTerminalBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, run := range f.rows {
		if len(ids) >= limit {
			break
		}
		if run.Terminal() && run.UpdatedAt.Before(cutoff) {
			ids = append(ids, run.ID)
		}
	}
	return ids, nil
}

func applyRunUpdates(run *types.WorkflowRun, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "status":
			run.Status = value.(string)
		case "current_stage":
			run.CurrentStage = value.(string)
		case "progress":
			run.Progress = value.(int)
		case "confidence":
			c := value.(float64)
			run.Confidence = &c
		case "retry_counts":
			run.RetryCounts = value.(datatypes.JSON)
		case "last_error":
			run.LastError = value.(string)
		}
	}
	run.UpdatedAt = time.Now()
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	stages []string
	runIDs []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueStage(_ context.Context, _ *gorm.DB, stage string, runID, _ uuid.UUID, _ datatypes.JSON) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	f.runIDs = append(f.runIDs, runID)
	return nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stages)
}

func testHandle(t *testing.T) *gorm.DB {
	t.Helper()
	handle, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return handle
}

func newTestEngine(t *testing.T, runs *fakeRunRepo, results *fakeResultRepo, enq *fakeEnqueuer, guard DuplicateGuard) *Engine {
	t.Helper()
	store := NewResultStore(results, testLogger(t))
	return NewEngine(db.Fixed(testHandle(t)), runs, nil, store, enq, nil, guard, testLogger(t))
}

func TestEngineStartRunDuplicateTriggerSharesRun(t *testing.T) {
	ctx := context.Background()
	runs := newFakeRunRepo()
	enq := &fakeEnqueuer{}
	guard := NewMemoryGuard()
	eng := newTestEngine(t, runs, newFakeResultRepo(), enq, guard)

	tenantID, uploadID := uuid.New(), uuid.New()

	first, err := eng.StartRun(ctx, tenantID, uploadID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if first.Status != types.RunStatusProcessing {
		t.Fatalf("first run status = %q, want processing", first.Status)
	}

	second, err := eng.StartRun(ctx, tenantID, uploadID)
	if !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("second start err = %v, want ErrDuplicateRun", err)
	}
	if second == nil {
		t.Fatalf("second start must return the existing run, got nil")
	}
	if second.ID != first.ID {
		t.Fatalf("second start returned run %s, want the first run %s", second.ID, first.ID)
	}

	if got := runs.count(); got != 1 {
		t.Fatalf("run rows = %d, a double trigger must create exactly one", got)
	}
	if got := enq.count(); got != 1 {
		t.Fatalf("enqueued jobs = %d, want exactly one first-stage job", got)
	}
	if enq.stages[0] != StageParse {
		t.Fatalf("first enqueued stage = %q, want %q", enq.stages[0], StageParse)
	}

	// The guard holds for its full window after a successful start; a
	// same-window acquire from anywhere else must lose.
	key := "run:start:" + tenantID.String() + ":" + uploadID.String()
	if ok, _ := guard.Acquire(ctx, key, time.Minute); ok {
		t.Fatalf("guard released before its window elapsed")
	}
}

func TestEngineStartRunGuardHitWaitsForWinner(t *testing.T) {
	ctx := context.Background()
	runs := newFakeRunRepo()
	guard := NewMemoryGuard()
	eng := newTestEngine(t, runs, newFakeResultRepo(), &fakeEnqueuer{}, guard)

	tenantID, uploadID := uuid.New(), uuid.New()
	key := "run:start:" + tenantID.String() + ":" + uploadID.String()
	if ok, err := guard.Acquire(ctx, key, time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquire guard: (%v, %v)", ok, err)
	}

	// The winner's creating transaction commits a moment after the loser
	// arrives; the loser has to wait it out rather than report nothing.
	winner := &types.WorkflowRun{
		ID:           uuid.New(),
		TenantID:     tenantID,
		UploadID:     uploadID,
		Status:       types.RunStatusProcessing,
		CurrentStage: StageParse,
	}
	go func() {
		time.Sleep(250 * time.Millisecond)
		_, _ = runs.Create(context.Background(), nil, winner)
	}()

	got, err := eng.StartRun(ctx, tenantID, uploadID)
	if !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("start err = %v, want ErrDuplicateRun", err)
	}
	if got == nil {
		t.Fatalf("guard-hit start must surface the winner's run, got nil")
	}
	if got.ID != winner.ID {
		t.Fatalf("guard-hit start returned run %s, want %s", got.ID, winner.ID)
	}
	if runs.count() != 1 {
		t.Fatalf("run rows = %d, loser must not create a second run", runs.count())
	}
}

func TestEngineFinalizeConfidenceBranch(t *testing.T) {
	ctx := context.Background()
	runs := newFakeRunRepo()
	results := newFakeResultRepo()
	eng := newTestEngine(t, runs, results, &fakeEnqueuer{}, NewMemoryGuard())

	run := &types.WorkflowRun{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		UploadID:     uuid.New(),
		Status:       types.RunStatusProcessing,
		CurrentStage: StageSync,
	}
	if _, err := runs.Create(ctx, nil, run); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	if err := eng.store.Put(ctx, nil, run.ID, StageExtract, map[string]interface{}{
		"confidence": 0.55,
	}); err != nil {
		t.Fatalf("seed result: %v", err)
	}

	if err := eng.finalize(ctx, run); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, _ := runs.GetByID(ctx, nil, run.ID)
	if got.Status != types.RunStatusNeedsReview {
		t.Fatalf("status = %q, want needs_review below the confidence cutoff", got.Status)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100 on finalize", got.Progress)
	}
}
