package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/http/response"
	"github.com/ordersight/ordersight-backend/internal/platform/ctxutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/sse"
)

type EventsHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewEventsHandler(log *logger.Logger, hub *sse.Hub) *EventsHandler {
	return &EventsHandler{
		log: log.With("handler", "EventsHandler"),
		hub: hub,
	}
}

// Stream opens an SSE connection carrying the tenant's progress, stage,
// completion and error events. Auth comes via ?token= because
// EventSource cannot set headers.
func (h *EventsHandler) Stream(c *gin.Context) {
	td := ctxutil.GetTenant(c.Request.Context())
	if td == nil || td.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	client := h.hub.NewClient(td.TenantID)
	h.log.Info("event stream open",
		"tenant_id", td.TenantID.String(), "client_id", client.ID.String())

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Info("event stream closed",
		"tenant_id", td.TenantID.String(), "client_id", client.ID.String())
}
