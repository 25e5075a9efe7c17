package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	UploadStatusReceived   = "received"
	UploadStatusProcessing = "processing"
	UploadStatusProcessed  = "processed"
)

// DocumentUpload records one received purchase-order document. The bytes
// live in blob storage under StorageKey; only the pointer travels through
// job payloads.
type DocumentUpload struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	FileName    string    `gorm:"column:file_name;not null" json:"file_name"`
	ContentType string    `gorm:"column:content_type" json:"content_type,omitempty"`
	StorageKey  string    `gorm:"column:storage_key;not null" json:"storage_key"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	Status      string    `gorm:"column:status;not null;index" json:"status"`
	CreatedAt   time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (DocumentUpload) TableName() string { return "document_upload" }
