package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/ordersight/ordersight-backend/internal/domain"
)

func SeedTenant(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Tenant {
	tb.Helper()
	t := &types.Tenant{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: "hash",
		Active:     true,
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed tenant: %v", err)
	}
	return t
}

func SeedUpload(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) *types.DocumentUpload {
	tb.Helper()
	u := &types.DocumentUpload{
		ID:          uuid.New(),
		TenantID:    tenantID,
		FileName:    "po.pdf",
		ContentType: "application/pdf",
		StorageKey:  fmt.Sprintf("uploads/%s/po.pdf", uuid.New()),
		SizeBytes:   1024,
		Status:      types.UploadStatusReceived,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed upload: %v", err)
	}
	return u
}

func SeedRun(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, uploadID uuid.UUID, status string) *types.WorkflowRun {
	tb.Helper()
	r := &types.WorkflowRun{
		ID:          uuid.New(),
		TenantID:    tenantID,
		UploadID:    uploadID,
		Status:      status,
		RetryCounts: datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed run: %v", err)
	}
	return r
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, queue string, runID, tenantID uuid.UUID, status string) *types.StageJob {
	tb.Helper()
	j := &types.StageJob{
		ID:          uuid.New(),
		Queue:       queue,
		RunID:       runID,
		TenantID:    tenantID,
		Status:      status,
		MaxAttempts: 3,
		Payload:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedPurchaseOrder(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, runID uuid.UUID, orderNumber string) *types.PurchaseOrder {
	tb.Helper()
	po := &types.PurchaseOrder{
		ID:          uuid.New(),
		TenantID:    tenantID,
		RunID:       runID,
		OrderNumber: orderNumber,
		Status:      types.OrderStatusSaved,
		Metadata:    datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(po).Error; err != nil {
		tb.Fatalf("seed purchase order: %v", err)
	}
	return po
}

func PtrTime(v time.Time) *time.Time { return &v }
