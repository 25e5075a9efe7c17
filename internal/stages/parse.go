package stages

import (
	"context"
	"io"

	"github.com/ordersight/ordersight-backend/internal/clients/gcp"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// maxParseTextBytes caps the text carried through the result store; the
// extract prompt never needs more than this.
const maxParseTextBytes = 256 * 1024

// ParseStage pulls the uploaded document from blob storage and runs it
// through Document AI.
type ParseStage struct {
	uploads  repos.UploadRepo
	bucket   gcp.BucketService
	document gcp.Document
	log      *logger.Logger
}

func NewParseStage(uploads repos.UploadRepo, bucket gcp.BucketService, document gcp.Document, baseLog *logger.Logger) *ParseStage {
	return &ParseStage{
		uploads:  uploads,
		bucket:   bucket,
		document: document,
		log:      baseLog.With("stage", workflow.StageParse),
	}
}

func (s *ParseStage) Run(ctx context.Context, run *types.WorkflowRun, _ *types.StageJob) (interface{}, error) {
	upload, err := s.uploads.GetByID(ctx, nil, run.UploadID)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, workflow.FatalError("parse: upload record missing")
	}

	if err := s.uploads.UpdateFields(ctx, nil, upload.ID, map[string]interface{}{
		"status": types.UploadStatusProcessing,
	}); err != nil {
		return nil, err
	}

	r, err := s.bucket.Download(ctx, upload.StorageKey)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, workflow.FatalError("parse: stored document is empty")
	}

	result, err := s.document.ProcessBytes(ctx, gcp.DocAIProcessBytesRequest{
		MimeType: upload.ContentType,
		Data:     data,
	})
	if err != nil {
		return nil, err
	}

	text := result.PrimaryText
	if len(text) > maxParseTextBytes {
		text = text[:maxParseTextBytes]
	}

	out := parseResult{
		Provider:    result.Provider,
		Pages:       result.Pages,
		PrimaryText: text,
	}
	for _, table := range result.Tables {
		out.Tables = append(out.Tables, parseTable{Page: table.Page, Rows: table.Rows})
	}

	s.log.Info("document parsed",
		"run_id", run.ID.String(), "pages", out.Pages, "tables", len(out.Tables))
	return out, nil
}
