package repos_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	dbx "github.com/ordersight/ordersight-backend/internal/data/db"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/data/repos/testutil"
	types "github.com/ordersight/ordersight-backend/internal/domain"
)

func TestPurchaseOrderRepo_CreateWithLines(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	repo := repos.NewPurchaseOrderRepo(dbx.Fixed(db), log)

	tenant := testutil.SeedTenant(t, ctx, tx, "po-"+time.Now().Format("150405.000000"))
	upload := testutil.SeedUpload(t, ctx, tx, tenant.ID)
	run := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)

	number := fmt.Sprintf("PO-%d", time.Now().UnixNano())
	po := &types.PurchaseOrder{
		ID:          uuid.New(),
		TenantID:    tenant.ID,
		RunID:       run.ID,
		OrderNumber: number,
		Status:      types.OrderStatusSaved,
		Total:       120.50,
	}
	lines := []*types.PurchaseOrderLine{
		{ID: uuid.New(), LineNumber: 1, SKU: "SKU-1", Quantity: 2, UnitPrice: 30, Total: 60},
		{ID: uuid.New(), LineNumber: 2, SKU: "SKU-2", Quantity: 1, UnitPrice: 60.50, Total: 60.50},
	}

	if err := repo.CreateWithLines(ctx, tx, po, lines); err != nil {
		t.Fatalf("create with lines: %v", err)
	}

	got, err := repo.GetByRun(ctx, tx, run.ID)
	if err != nil {
		t.Fatalf("get by run: %v", err)
	}
	if got == nil {
		t.Fatalf("order not found by run")
	}
	if len(got.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(got.Lines))
	}

	exists, err := repo.ExistsOrderNumber(ctx, tx, tenant.ID, number)
	if err != nil {
		t.Fatalf("exists order number: %v", err)
	}
	if !exists {
		t.Fatalf("order number should exist")
	}

	hasLines, err := repo.HasPersistedLines(ctx, tx, run.ID)
	if err != nil {
		t.Fatalf("has persisted lines: %v", err)
	}
	if !hasLines {
		t.Fatalf("run should report persisted lines")
	}

	otherRun := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)
	hasLines, err = repo.HasPersistedLines(ctx, tx, otherRun.ID)
	if err != nil {
		t.Fatalf("has persisted lines (empty run): %v", err)
	}
	if hasLines {
		t.Fatalf("empty run must not report persisted lines")
	}
}

func TestProductRepo_UpsertBySKU(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	repo := repos.NewProductRepo(dbx.Fixed(db), log)

	tenant := testutil.SeedTenant(t, ctx, tx, "prod-"+time.Now().Format("150405.000000"))
	upload := testutil.SeedUpload(t, ctx, tx, tenant.ID)
	run := testutil.SeedRun(t, ctx, tx, tenant.ID, upload.ID, types.RunStatusProcessing)
	po := testutil.SeedPurchaseOrder(t, ctx, tx, tenant.ID, run.ID, fmt.Sprintf("PO-%d", time.Now().UnixNano()))

	sku := fmt.Sprintf("SKU-%d", time.Now().UnixNano())
	first, err := repo.UpsertBySKU(ctx, tx, &types.Product{
		TenantID: tenant.ID,
		SKU:      sku,
		Title:    "Widget",
		SourcePO: po.ID,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first == nil {
		t.Fatalf("first upsert returned nil product")
	}

	second, err := repo.UpsertBySKU(ctx, tx, &types.Product{
		TenantID: tenant.ID,
		SKU:      sku,
		Title:    "Widget v2",
		SourcePO: po.ID,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a second row for the same (tenant, sku)")
	}
	if second.Title != "Widget v2" {
		t.Fatalf("title = %q, want the updated title", second.Title)
	}

	img := &types.ProductImage{ProductID: first.ID, StorageKey: "images/a.jpg", Position: 0}
	if err := repo.AttachImage(ctx, tx, img); err != nil {
		t.Fatalf("attach image: %v", err)
	}
	// Retried attachment of the same key is a no-op.
	if err := repo.AttachImage(ctx, tx, &types.ProductImage{ProductID: first.ID, StorageKey: "images/a.jpg"}); err != nil {
		t.Fatalf("attach image again: %v", err)
	}
	images, err := repo.ListImages(ctx, tx, first.ID)
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
}
