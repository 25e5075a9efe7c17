package handlers

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/http/response"
	"github.com/ordersight/ordersight-backend/internal/platform/ctxutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/services"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

type UploadHandler struct {
	log     *logger.Logger
	uploads services.UploadService
}

func NewUploadHandler(log *logger.Logger, uploads services.UploadService) *UploadHandler {
	return &UploadHandler{
		log:     log.With("handler", "UploadHandler"),
		uploads: uploads,
	}
}

// Receive accepts one purchase-order document as multipart form field
// "file" and starts a processing run for it.
func (h *UploadHandler) Receive(c *gin.Context) {
	td := ctxutil.GetTenant(c.Request.Context())
	if td == nil || td.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	file, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file", err)
		return
	}
	defer file.Close()

	contentType := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))

	upload, run, err := h.uploads.Receive(c.Request.Context(), td.TenantID, fh.Filename, contentType, file)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrValidation):
			response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		case errors.Is(err, workflow.ErrDuplicateRun):
			body := gin.H{"error": gin.H{"message": err.Error(), "code": "duplicate_run"}}
			if run != nil {
				body["run_id"] = run.ID
			}
			c.JSON(http.StatusConflict, body)
		default:
			h.log.Error("upload failed", "error", err)
			response.RespondError(c, http.StatusInternalServerError, "upload_failed", err)
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"upload_id": upload.ID,
		"run_id":    run.ID,
		"status":    run.Status,
	})
}
