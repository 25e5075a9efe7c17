package stages

import (
	"context"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// FinalizeStage closes out the upload record. The run's own terminal
// transition (completed vs needs_review) happens in the engine once this
// stage's completion is reported.
type FinalizeStage struct {
	uploads repos.UploadRepo
	log     *logger.Logger
}

func NewFinalizeStage(uploads repos.UploadRepo, baseLog *logger.Logger) *FinalizeStage {
	return &FinalizeStage{
		uploads: uploads,
		log:     baseLog.With("stage", workflow.StageFinalize),
	}
}

func (s *FinalizeStage) Run(ctx context.Context, run *types.WorkflowRun, _ *types.StageJob) (interface{}, error) {
	if err := s.uploads.UpdateFields(ctx, nil, run.UploadID, map[string]interface{}{
		"status": types.UploadStatusProcessed,
	}); err != nil {
		return nil, err
	}
	s.log.Info("upload finalized", "run_id", run.ID.String(), "upload_id", run.UploadID.String())
	return nil, nil
}
