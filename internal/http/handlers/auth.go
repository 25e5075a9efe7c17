package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ordersight/ordersight-backend/internal/http/response"
	"github.com/ordersight/ordersight-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Token exchanges a tenant name and API key for a bearer token.
func (ah *AuthHandler) Token(c *gin.Context) {
	var req struct {
		Tenant string `json:"tenant"`
		APIKey string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	token, err := ah.authService.IssueToken(c.Request.Context(), req.Tenant, req.APIKey)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			response.RespondError(c, http.StatusUnauthorized, "invalid_credentials", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "token_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"token": token})
}
