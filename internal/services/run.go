package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// RunStatus is the client-facing view of one run.
type RunStatus struct {
	ID           uuid.UUID      `json:"id"`
	UploadID     uuid.UUID      `json:"upload_id"`
	Status       string         `json:"status"`
	CurrentStage string         `json:"current_stage"`
	Progress     int            `json:"progress"`
	Confidence   *float64       `json:"confidence,omitempty"`
	RetryCounts  map[string]int `json:"retry_counts,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	OrderID      *uuid.UUID     `json:"order_id,omitempty"`
	OrderNumber  string         `json:"order_number,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Results is the accumulated stage output merged in pipeline order,
	// later stages shadowing earlier ones. Only populated on single-run
	// lookups.
	Results map[string]json.RawMessage `json:"results,omitempty"`
}

// RunService answers status queries and drives manual retries. Every
// lookup is tenant-scoped; a run belonging to another tenant is simply
// not found.
type RunService interface {
	GetStatus(ctx context.Context, tenantID, runID uuid.UUID) (*RunStatus, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*RunStatus, error)
	Retry(ctx context.Context, tenantID, runID uuid.UUID, fromStage string) (*RunStatus, error)
}

type runService struct {
	runs   repos.WorkflowRunRepo
	orders repos.PurchaseOrderRepo
	store  *workflow.ResultStore
	engine *workflow.Engine
	log    *logger.Logger
}

func NewRunService(runs repos.WorkflowRunRepo, orders repos.PurchaseOrderRepo, store *workflow.ResultStore, engine *workflow.Engine, baseLog *logger.Logger) RunService {
	return &runService{
		runs:   runs,
		orders: orders,
		store:  store,
		engine: engine,
		log:    baseLog.With("service", "RunService"),
	}
}

func (s *runService) GetStatus(ctx context.Context, tenantID, runID uuid.UUID) (*RunStatus, error) {
	run, err := s.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil || run.TenantID != tenantID {
		return nil, nil
	}

	status := toRunStatus(run)
	if po, err := s.orders.GetByRun(ctx, nil, run.ID); err == nil && po != nil {
		status.OrderID = &po.ID
		status.OrderNumber = po.OrderNumber
	}
	if merged, err := s.store.Merged(ctx, nil, run.ID); err == nil && len(merged) > 0 {
		status.Results = merged
	}
	return status, nil
}

func (s *runService) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*RunStatus, error) {
	runs, err := s.runs.ListByTenant(ctx, nil, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*RunStatus, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunStatus(run))
	}
	return out, nil
}

func (s *runService) Retry(ctx context.Context, tenantID, runID uuid.UUID, fromStage string) (*RunStatus, error) {
	run, err := s.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil || run.TenantID != tenantID {
		return nil, nil
	}

	retried, err := s.engine.RetryRun(ctx, runID, fromStage)
	if err != nil {
		return nil, err
	}
	return toRunStatus(retried), nil
}

func toRunStatus(run *types.WorkflowRun) *RunStatus {
	counts := map[string]int{}
	if len(run.RetryCounts) > 0 {
		_ = json.Unmarshal(run.RetryCounts, &counts)
	}
	return &RunStatus{
		ID:           run.ID,
		UploadID:     run.UploadID,
		Status:       run.Status,
		CurrentStage: run.CurrentStage,
		Progress:     run.Progress,
		Confidence:   run.Confidence,
		RetryCounts:  counts,
		LastError:    run.LastError,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}
