package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type fakeResultRepo struct {
	rows map[string]*types.StageResult
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{rows: map[string]*types.StageResult{}}
}

func (f *fakeResultRepo) Upsert(_ context.Context, _ *gorm.DB, runID uuid.UUID, stage string, payload datatypes.JSON) error {
	f.rows[runID.String()+"/"+stage] = &types.StageResult{
		ID: uuid.New(), RunID: runID, Stage: stage, Payload: payload, WrittenAt: time.Now(),
	}
	return nil
}

func (f *fakeResultRepo) ListByRun(_ context.Context, _ *gorm.DB, runID uuid.UUID) ([]*types.StageResult, error) {
	var out []*types.StageResult
	for _, row := range f.rows {
		if row.RunID == runID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeResultRepo) DeleteByRuns(_ context.Context, _ *gorm.DB, runIDs []uuid.UUID) error {
	for _, id := range runIDs {
		for k, row := range f.rows {
			if row.RunID == id {
				delete(f.rows, k)
			}
		}
	}
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestResultStoreMergedShadowing(t *testing.T) {
	ctx := context.Background()
	repo := newFakeResultRepo()
	store := NewResultStore(repo, testLogger(t))
	runID := uuid.New()

	// Extract writes a confidence; finalize-adjacent stages may overwrite it.
	if err := store.Put(ctx, nil, runID, StageExtract, map[string]interface{}{
		"order_number": "PO-100",
		"confidence":   0.55,
	}); err != nil {
		t.Fatalf("put extract: %v", err)
	}
	if err := store.Put(ctx, nil, runID, StagePersist, map[string]interface{}{
		"order_id":   uuid.New().String(),
		"confidence": 0.91,
	}); err != nil {
		t.Fatalf("put persist: %v", err)
	}
	if err := store.Put(ctx, nil, runID, StageParse, map[string]interface{}{
		"pages":      3,
		"confidence": 0.10,
	}); err != nil {
		t.Fatalf("put parse: %v", err)
	}

	merged, err := store.Merged(ctx, nil, runID)
	if err != nil {
		t.Fatalf("merged: %v", err)
	}

	var confidence float64
	if err := json.Unmarshal(merged["confidence"], &confidence); err != nil {
		t.Fatalf("decode confidence: %v", err)
	}
	// Persist runs after parse and extract, so its confidence wins even
	// though parse was written last.
	if confidence != 0.91 {
		t.Fatalf("confidence = %v, want the latest stage's 0.91", confidence)
	}

	var orderNumber string
	if err := json.Unmarshal(merged["order_number"], &orderNumber); err != nil {
		t.Fatalf("decode order_number: %v", err)
	}
	if orderNumber != "PO-100" {
		t.Fatalf("order_number = %q, earlier stage key must survive the merge", orderNumber)
	}
}

func TestResultStorePutRejectsUnknownStage(t *testing.T) {
	store := NewResultStore(newFakeResultRepo(), testLogger(t))
	err := store.Put(context.Background(), nil, uuid.New(), "mystery", map[string]int{"a": 1})
	if err == nil {
		t.Fatalf("expected validation error for unknown stage")
	}
}

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	guard := NewMemoryGuard()

	ok, err := guard.Acquire(ctx, "run:start:a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = guard.Acquire(ctx, "run:start:a", time.Minute)
	if ok {
		t.Fatalf("second acquire succeeded while key held")
	}
	if err := guard.Release(ctx, "run:start:a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = guard.Acquire(ctx, "run:start:a", time.Minute)
	if !ok {
		t.Fatalf("acquire after release failed")
	}

	// Expired holds are reclaimed.
	guard.clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
	ok, _ = guard.Acquire(ctx, "run:start:a", time.Minute)
	if !ok {
		t.Fatalf("acquire after ttl expiry failed")
	}
}
