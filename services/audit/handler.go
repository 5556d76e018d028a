package audit

import (
	"net/http"

	"rpa-orchestrator/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/workload/items/:id/events", h.listEvents)
}

func (h *Handler) listEvents(c *gin.Context) {
	events, err := h.svc.ListForItem(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}
