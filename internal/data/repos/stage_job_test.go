package repos_test

import (
	"context"
	"testing"
	"time"

	dbx "github.com/ordersight/ordersight-backend/internal/data/db"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/data/repos/testutil"
	types "github.com/ordersight/ordersight-backend/internal/domain"
)

func TestStageJobRepo_ClaimNext(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	repo := repos.NewStageJobRepo(dbx.Fixed(db), log)

	tenant := testutil.SeedTenant(t, ctx, tx, "claim-"+time.Now().Format("150405.000000"))
	upload := testutil.SeedUpload(t, ctx, tx, tenant.ID)
	run := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)

	queue := "po-parse-" + run.ID.String()[:8]
	ready := testutil.SeedJob(t, ctx, tx, queue, run.ID, tenant.ID, types.JobStatusQueued)

	deferred := testutil.SeedJob(t, ctx, tx, queue, run.ID, tenant.ID, types.JobStatusQueued)
	future := time.Now().Add(time.Hour)
	if err := tx.Model(&types.StageJob{}).Where("id = ?", deferred.ID).
		Update("run_after", future).Error; err != nil {
		t.Fatalf("defer job: %v", err)
	}

	claimed, err := repo.ClaimNext(ctx, tx, queue, 2*time.Minute)
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	if claimed == nil {
		t.Fatalf("expected a claimable job")
	}
	if claimed.ID != ready.ID {
		t.Fatalf("claimed %s, want the ready job %s", claimed.ID, ready.ID)
	}
	if claimed.Status != types.JobStatusRunning {
		t.Fatalf("status = %s, want running", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", claimed.Attempts)
	}
	if claimed.LockedUntil == nil || !claimed.LockedUntil.After(time.Now()) {
		t.Fatalf("locked_until not set into the future")
	}

	// The deferred job is not runnable yet, so a second claim comes up empty.
	second, err := repo.ClaimNext(ctx, tx, queue, 2*time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatalf("claimed a job with run_after in the future")
	}
}

func TestStageJobRepo_ClaimExpired(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	repo := repos.NewStageJobRepo(dbx.Fixed(db), log)

	tenant := testutil.SeedTenant(t, ctx, tx, "expired-"+time.Now().Format("150405.000000"))
	upload := testutil.SeedUpload(t, ctx, tx, tenant.ID)
	run := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)

	queue := "po-extract-" + run.ID.String()[:8]
	stalled := testutil.SeedJob(t, ctx, tx, queue, run.ID, tenant.ID, types.JobStatusRunning)
	healthy := testutil.SeedJob(t, ctx, tx, queue, run.ID, tenant.ID, types.JobStatusRunning)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	if err := tx.Model(&types.StageJob{}).Where("id = ?", stalled.ID).
		Update("locked_until", past).Error; err != nil {
		t.Fatalf("expire lock: %v", err)
	}
	if err := tx.Model(&types.StageJob{}).Where("id = ?", healthy.ID).
		Update("locked_until", future).Error; err != nil {
		t.Fatalf("extend lock: %v", err)
	}

	claimed, err := repo.ClaimExpired(ctx, tx, 10)
	if err != nil {
		t.Fatalf("claim expired: %v", err)
	}

	found := false
	for _, j := range claimed {
		if j.ID == healthy.ID {
			t.Fatalf("healthy job swept as expired")
		}
		if j.ID == stalled.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the expired job to be claimed")
	}

	got, err := repo.GetByID(ctx, tx, stalled.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != types.JobStatusFailed {
		t.Fatalf("status = %s, want failed after expiry claim", got.Status)
	}
}

func TestStageJobRepo_MoveToDeadLetter(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	repo := repos.NewStageJobRepo(dbx.Fixed(db), log)

	tenant := testutil.SeedTenant(t, ctx, tx, "dead-"+time.Now().Format("150405.000000"))
	upload := testutil.SeedUpload(t, ctx, tx, tenant.ID)
	run := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)

	queue := "po-sync-" + run.ID.String()[:8]
	job := testutil.SeedJob(t, ctx, tx, queue, run.ID, tenant.ID, types.JobStatusRunning)
	job.Attempts = 3

	if err := repo.MoveToDeadLetter(ctx, tx, job, "remote rejected payload"); err != nil {
		t.Fatalf("move to dead letter: %v", err)
	}

	got, err := repo.GetByID(ctx, tx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != types.JobStatusDead {
		t.Fatalf("status = %s, want dead", got.Status)
	}

	var dead types.DeadLetterJob
	if err := tx.Where("job_id = ?", job.ID).First(&dead).Error; err != nil {
		t.Fatalf("dead letter row: %v", err)
	}
	if dead.LastError != "remote rejected payload" {
		t.Fatalf("dead letter last_error = %q", dead.LastError)
	}
	if dead.Queue != queue {
		t.Fatalf("dead letter queue = %q, want %q", dead.Queue, queue)
	}

	ok, err := repo.HasRunnable(ctx, tx, run.ID, queue)
	if err != nil {
		t.Fatalf("has runnable: %v", err)
	}
	if ok {
		t.Fatalf("dead job still counted as runnable")
	}
}
