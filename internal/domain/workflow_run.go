package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunStatusPending     = "pending"
	RunStatusProcessing  = "processing"
	RunStatusCompleted   = "completed"
	RunStatusNeedsReview = "needs_review"
	RunStatusFailed      = "failed"
)

// WorkflowRun is the authoritative record for one pipeline execution of one
// uploaded document. It is only ever mutated by the workflow engine and is
// terminalized, never deleted.
type WorkflowRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UploadID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"upload_id"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	CurrentStage string         `gorm:"column:current_stage;not null;index" json:"current_stage"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	RetryCounts  datatypes.JSON `gorm:"column:retry_counts;type:jsonb" json:"retry_counts"`
	Confidence   *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
	LastError    string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt  *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (WorkflowRun) TableName() string { return "workflow_run" }

func (r *WorkflowRun) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusNeedsReview, RunStatusFailed:
		return true
	}
	return false
}
