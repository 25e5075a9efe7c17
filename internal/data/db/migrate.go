package db

import (
	"gorm.io/gorm"

	types "github.com/ordersight/ordersight-backend/internal/domain"
)

func AutoMigrateAll(handle *gorm.DB) error {
	return handle.AutoMigrate(
		&types.Tenant{},
		&types.DocumentUpload{},

		&types.WorkflowRun{},
		&types.StageResult{},
		&types.StageJob{},
		&types.DeadLetterJob{},

		&types.PurchaseOrder{},
		&types.PurchaseOrderLine{},
		&types.Product{},
		&types.ProductImage{},
	)
}
