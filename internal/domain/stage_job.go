package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusDead      = "dead"
)

// StageJob is one queued unit of work bound to exactly one (run, stage).
// The payload carries run/tenant IDs and storage pointers only; document
// bytes and parsed text live in blob storage and the stage result store.
type StageJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Queue       string         `gorm:"column:queue;not null;index" json:"queue"`
	RunID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	TenantID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"column:max_attempts;not null;default:0" json:"max_attempts"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	RunAfter    *time.Time     `gorm:"column:run_after;index" json:"run_after,omitempty"`
	LockedUntil *time.Time     `gorm:"column:locked_until;index" json:"locked_until,omitempty"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (StageJob) TableName() string { return "stage_job" }

// DeadLetterJob preserves a job that exhausted its retry budget so operators
// can inspect and re-drive it by hand.
type DeadLetterJob struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Queue     string         `gorm:"column:queue;not null;index" json:"queue"`
	RunID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	TenantID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Attempts  int            `gorm:"column:attempts;not null" json:"attempts"`
	LastError string         `gorm:"column:last_error" json:"last_error,omitempty"`
	DeadAt    time.Time      `gorm:"column:dead_at;not null;default:now();index" json:"dead_at"`
}

func (DeadLetterJob) TableName() string { return "dead_letter_job" }
