package repos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	dbx "github.com/ordersight/ordersight-backend/internal/data/db"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/data/repos/testutil"
	types "github.com/ordersight/ordersight-backend/internal/domain"
)

func TestWorkflowRunRepo_UpdateFieldsUnlessStatus(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	repo := repos.NewWorkflowRunRepo(dbx.Fixed(db), log)

	tenant := testutil.SeedTenant(t, ctx, tx, "acme-"+time.Now().Format("150405.000000"))
	upload := testutil.SeedUpload(t, ctx, tx, tenant.ID)
	run := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)

	ok, err := repo.UpdateFieldsUnlessStatus(ctx, tx, run.ID,
		[]string{types.RunStatusCompleted, types.RunStatusFailed, types.RunStatusNeedsReview},
		map[string]interface{}{"progress": 45, "current_stage": "persist"})
	if err != nil {
		t.Fatalf("guarded update: %v", err)
	}
	if !ok {
		t.Fatalf("expected guarded update to apply to processing run")
	}

	if err := repo.UpdateFields(ctx, tx, run.ID, map[string]interface{}{"status": types.RunStatusCompleted}); err != nil {
		t.Fatalf("terminalize run: %v", err)
	}

	ok, err = repo.UpdateFieldsUnlessStatus(ctx, tx, run.ID,
		[]string{types.RunStatusCompleted, types.RunStatusFailed, types.RunStatusNeedsReview},
		map[string]interface{}{"progress": 60})
	if err != nil {
		t.Fatalf("guarded update after terminal: %v", err)
	}
	if ok {
		t.Fatalf("expected guarded update to no-op on completed run")
	}

	got, err := repo.GetByID(ctx, tx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Progress != 45 {
		t.Fatalf("progress = %d, want 45 (late write must not land)", got.Progress)
	}
}

func TestWorkflowRunRepo_ClaimStalled(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	repo := repos.NewWorkflowRunRepo(dbx.Fixed(db), log)

	tenant := testutil.SeedTenant(t, ctx, tx, "stalled-"+time.Now().Format("150405.000000"))
	upload := testutil.SeedUpload(t, ctx, tx, tenant.ID)

	stale := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)
	fresh := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)
	done := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusCompleted)

	old := time.Now().Add(-2 * time.Hour)
	if err := tx.Model(&types.WorkflowRun{}).Where("id IN ?", []uuid.UUID{stale.ID, done.ID}).
		Update("updated_at", old).Error; err != nil {
		t.Fatalf("age runs: %v", err)
	}

	claimed, err := repo.ClaimStalled(ctx, tx, time.Hour, 10)
	if err != nil {
		t.Fatalf("claim stalled: %v", err)
	}

	ids := map[string]bool{}
	for _, r := range claimed {
		ids[r.ID.String()] = true
	}
	if !ids[stale.ID.String()] {
		t.Fatalf("expected stale processing run to be claimed")
	}
	if ids[fresh.ID.String()] {
		t.Fatalf("fresh run must not be claimed")
	}
	if ids[done.ID.String()] {
		t.Fatalf("terminal run must not be claimed")
	}

	// The claim bumps updated_at, so an immediate second sweep sees nothing.
	again, err := repo.ClaimStalled(ctx, tx, time.Hour, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	for _, r := range again {
		if r.ID == stale.ID {
			t.Fatalf("run claimed twice by back-to-back sweeps")
		}
	}
}
