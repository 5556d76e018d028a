package dispatch

import (
	"net/http"

	"rpa-orchestrator/pkg/errutil"
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
	g := r.Group("/workload")
	g.POST("/claim", h.claim)
	g.POST("/items/:id/complete", h.complete)
	g.POST("/items/:id/fail", h.fail)
}

type claimRequest struct {
	AgentID   string `json:"agent_id" binding:"required"`
	QueueName string `json:"queue_name"`
}

func (h *Handler) claim(c *gin.Context) {
	var in claimRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	item, err := h.svc.Claim(c.Request.Context(), middleware.TenantID(c), in.AgentID, in.QueueName)
	if err != nil {
		c.Error(err)
		return
	}
	if item == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, item)
}

type completeRequest struct {
	AgentID string         `json:"agent_id" binding:"required"`
	Result  map[string]any `json:"result"`
}

func (h *Handler) complete(c *gin.Context) {
	var in completeRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	item, err := h.svc.Complete(c.Request.Context(), middleware.TenantID(c), c.Param("id"), in.AgentID, in.Result)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type failRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Error   string `json:"error"`
}

func (h *Handler) fail(c *gin.Context) {
	var in failRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	item, err := h.svc.Fail(c.Request.Context(), middleware.TenantID(c), c.Param("id"), in.AgentID, in.Error)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}
