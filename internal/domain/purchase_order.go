package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	OrderStatusDraft    = "draft"
	OrderStatusSaved    = "saved"
	OrderStatusSynced   = "synced"
	OrderStatusSyncFail = "sync_failed"
)

// PurchaseOrder is the business record the persist stage creates from the
// extracted document. OrderNumber is unique per tenant; collisions are
// resolved by the conflict resolver, never assumed away.
type PurchaseOrder struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_po_tenant_number" json:"tenant_id"`
	RunID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	OrderNumber  string         `gorm:"column:order_number;not null;uniqueIndex:idx_po_tenant_number" json:"order_number"`
	SupplierName string         `gorm:"column:supplier_name" json:"supplier_name,omitempty"`
	OrderDate    *time.Time     `gorm:"column:order_date" json:"order_date,omitempty"`
	Currency     string         `gorm:"column:currency" json:"currency,omitempty"`
	Subtotal     float64        `gorm:"column:subtotal" json:"subtotal"`
	Tax          float64        `gorm:"column:tax" json:"tax"`
	Total        float64        `gorm:"column:total" json:"total"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	RemoteID     string         `gorm:"column:remote_id;index" json:"remote_id,omitempty"`
	SyncedAt     *time.Time     `gorm:"column:synced_at" json:"synced_at,omitempty"`
	Metadata     datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now();index" json:"updated_at"`

	Lines []PurchaseOrderLine `gorm:"foreignKey:PurchaseOrderID" json:"lines,omitempty"`
}

func (PurchaseOrder) TableName() string { return "purchase_order" }

type PurchaseOrderLine struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PurchaseOrderID uuid.UUID `gorm:"type:uuid;not null;index" json:"purchase_order_id"`
	LineNumber      int       `gorm:"column:line_number;not null" json:"line_number"`
	SKU             string    `gorm:"column:sku;index" json:"sku,omitempty"`
	Description     string    `gorm:"column:description" json:"description,omitempty"`
	Quantity        float64   `gorm:"column:quantity" json:"quantity"`
	UnitPrice       float64   `gorm:"column:unit_price" json:"unit_price"`
	Total           float64   `gorm:"column:total" json:"total"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (PurchaseOrderLine) TableName() string { return "purchase_order_line" }

// Product is the downstream catalog record derived from order lines.
type Product struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_product_tenant_sku" json:"tenant_id"`
	SKU       string     `gorm:"column:sku;not null;uniqueIndex:idx_product_tenant_sku" json:"sku"`
	Title     string     `gorm:"column:title" json:"title,omitempty"`
	SourcePO  uuid.UUID  `gorm:"type:uuid;column:source_po;index" json:"source_po,omitempty"`
	RemoteID  string     `gorm:"column:remote_id;index" json:"remote_id,omitempty"`
	SyncedAt  *time.Time `gorm:"column:synced_at" json:"synced_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Product) TableName() string { return "product" }

type ProductImage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID  uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	StorageKey string    `gorm:"column:storage_key;not null" json:"storage_key"`
	SourceURL  string    `gorm:"column:source_url" json:"source_url,omitempty"`
	Position   int       `gorm:"column:position;not null;default:0" json:"position"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ProductImage) TableName() string { return "product_image" }
