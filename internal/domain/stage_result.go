package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StageResult holds the output of one stage for one run. There is at most one
// row per (run_id, stage); a stage retry overwrites its previous payload.
// Rows are cleared after the run terminalizes plus a grace period.
type StageResult struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_stage_result_run_stage" json:"run_id"`
	Stage     string         `gorm:"column:stage;not null;uniqueIndex:idx_stage_result_run_stage" json:"stage"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	WrittenAt time.Time      `gorm:"column:written_at;not null;default:now()" json:"written_at"`
}

func (StageResult) TableName() string { return "stage_result" }
