package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/clients/gcp"
	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// maxUploadBytes caps document size at ingest.
const maxUploadBytes = 25 << 20

var allowedUploadTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
}

// UploadService receives a purchase-order document, stores its bytes, and
// kicks off the processing run.
type UploadService interface {
	Receive(ctx context.Context, tenantID uuid.UUID, fileName, contentType string, r io.Reader) (*types.DocumentUpload, *types.WorkflowRun, error)
}

type uploadService struct {
	uploads repos.UploadRepo
	bucket  gcp.BucketService
	engine  *workflow.Engine
	log     *logger.Logger
}

func NewUploadService(uploads repos.UploadRepo, bucket gcp.BucketService, engine *workflow.Engine, baseLog *logger.Logger) UploadService {
	return &uploadService{
		uploads: uploads,
		bucket:  bucket,
		engine:  engine,
		log:     baseLog.With("service", "UploadService"),
	}
}

func (s *uploadService) Receive(ctx context.Context, tenantID uuid.UUID, fileName, contentType string, r io.Reader) (*types.DocumentUpload, *types.WorkflowRun, error) {
	if tenantID == uuid.Nil {
		return nil, nil, workflow.ValidationError("upload: missing tenant")
	}
	fileName = sanitizeFileName(fileName)
	if fileName == "" {
		return nil, nil, workflow.ValidationError("upload: file name required")
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if !allowedUploadTypes[contentType] {
		return nil, nil, workflow.ValidationError("upload: unsupported content type " + contentType)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, nil, workflow.ValidationError("upload: empty document")
	}
	if len(data) > maxUploadBytes {
		return nil, nil, workflow.ValidationError("upload: document exceeds size limit")
	}

	uploadID := uuid.New()
	key := fmt.Sprintf("tenants/%s/uploads/%s/%s", tenantID, uploadID, fileName)
	if err := s.bucket.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, nil, err
	}

	upload, err := s.uploads.Create(ctx, nil, &types.DocumentUpload{
		ID:          uploadID,
		TenantID:    tenantID,
		FileName:    fileName,
		ContentType: contentType,
		StorageKey:  key,
		SizeBytes:   int64(len(data)),
		Status:      types.UploadStatusReceived,
	})
	if err != nil {
		// Orphaned object; the cleanup sweep removes it later.
		return nil, nil, err
	}

	run, err := s.engine.StartRun(ctx, tenantID, uploadID)
	if err != nil {
		// A duplicate start still carries the existing run.
		return upload, run, err
	}

	s.log.Info("upload received",
		"tenant_id", tenantID.String(), "upload_id", uploadID.String(),
		"run_id", run.ID.String(), "bytes", len(data))
	return upload, run, nil
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
