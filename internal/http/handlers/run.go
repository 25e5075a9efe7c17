package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/http/response"
	"github.com/ordersight/ordersight-backend/internal/platform/ctxutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/services"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

type RunHandler struct {
	log  *logger.Logger
	runs services.RunService
}

func NewRunHandler(log *logger.Logger, runs services.RunService) *RunHandler {
	return &RunHandler{
		log:  log.With("handler", "RunHandler"),
		runs: runs,
	}
}

func (h *RunHandler) GetRun(c *gin.Context) {
	td := ctxutil.GetTenant(c.Request.Context())
	if td == nil || td.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}

	status, err := h.runs.GetStatus(c.Request.Context(), td.TenantID, runID)
	if err != nil {
		h.log.Error("run status lookup failed", "run_id", runID.String(), "error", err)
		response.RespondError(c, http.StatusInternalServerError, "run_lookup_failed", err)
		return
	}
	if status == nil {
		response.RespondError(c, http.StatusNotFound, "run_not_found", nil)
		return
	}
	response.RespondOK(c, status)
}

func (h *RunHandler) ListRuns(c *gin.Context) {
	td := ctxutil.GetTenant(c.Request.Context())
	if td == nil || td.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit := queryInt(c, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(c, "offset", 0)

	runs, err := h.runs.List(c.Request.Context(), td.TenantID, limit, offset)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "run_list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}

func (h *RunHandler) RetryRun(c *gin.Context) {
	td := ctxutil.GetTenant(c.Request.Context())
	if td == nil || td.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	var req struct {
		FromStage string `json:"from_stage"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}

	status, err := h.runs.Retry(c.Request.Context(), td.TenantID, runID, req.FromStage)
	if err != nil {
		if errors.Is(err, workflow.ErrValidation) {
			response.RespondError(c, http.StatusConflict, "run_not_retryable", err)
			return
		}
		h.log.Error("run retry failed", "run_id", runID.String(), "error", err)
		response.RespondError(c, http.StatusInternalServerError, "run_retry_failed", err)
		return
	}
	if status == nil {
		response.RespondError(c, http.StatusNotFound, "run_not_found", nil)
		return
	}
	response.RespondOK(c, status)
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
