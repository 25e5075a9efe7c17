package handlers

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ordersight/ordersight-backend/internal/http/response"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/queue"
	"github.com/ordersight/ordersight-backend/internal/services"
	"github.com/ordersight/ordersight-backend/internal/workflow"
)

// AdminHandler hosts operator-only endpoints: tenant provisioning and
// manual sweeps. Guarded by ADMIN_TOKEN, not tenant auth.
type AdminHandler struct {
	log         *logger.Logger
	authService services.AuthService
	runSweeper  *workflow.Sweeper
	jobSweeper  *queue.Sweeper
	adminToken  string
}

func NewAdminHandler(
	log *logger.Logger,
	authService services.AuthService,
	runSweeper *workflow.Sweeper,
	jobSweeper *queue.Sweeper,
) *AdminHandler {
	return &AdminHandler{
		log:         log.With("handler", "AdminHandler"),
		authService: authService,
		runSweeper:  runSweeper,
		jobSweeper:  jobSweeper,
		adminToken:  strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
	}
}

func (h *AdminHandler) authorized(c *gin.Context) bool {
	if h.adminToken == "" {
		response.RespondError(c, http.StatusForbidden, "admin_disabled", nil)
		return false
	}
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") && header[7:] == h.adminToken {
		return true
	}
	response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
	return false
}

func (h *AdminHandler) CreateTenant(c *gin.Context) {
	if !h.authorized(c) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	tenant, apiKey, err := h.authService.CreateTenant(c.Request.Context(), req.Name)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "tenant_create_failed", err)
		return
	}
	// The plaintext key is shown exactly once.
	c.JSON(http.StatusCreated, gin.H{
		"tenant_id": tenant.ID,
		"name":      tenant.Name,
		"api_key":   apiKey,
	})
}

func (h *AdminHandler) Sweep(c *gin.Context) {
	if !h.authorized(c) {
		return
	}
	ctx := c.Request.Context()

	requeued, dead, err := h.jobSweeper.SweepExpired(ctx)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "sweep_failed", err)
		return
	}
	recovered, err := h.runSweeper.RecoverStalled(ctx)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "sweep_failed", err)
		return
	}
	cleared, err := h.runSweeper.ClearExpiredResults(ctx)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "sweep_failed", err)
		return
	}

	response.RespondOK(c, gin.H{
		"jobs_requeued":   requeued,
		"jobs_dead":       dead,
		"runs_recovered":  recovered,
		"results_cleared": cleared,
	})
}
