package workload

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

// Register mounts enqueue and read routes. Claim, complete and fail live on
// the dispatch handler, which coordinates across agents and versions.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/workload")
	g.POST("/items", h.enqueue)
	g.GET("/items", h.list)
	g.GET("/items/:id", h.get)
}

func (h *Handler) enqueue(c *gin.Context) {
	var in EnqueueInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	out, err := h.svc.Enqueue(c.Request.Context(), middleware.TenantID(c), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) list(c *gin.Context) {
	f := ListFilter{
		Status:    c.Query("status"),
		Priority:  Priority(c.Query("priority")),
		QueueName: c.Query("queue_name"),
		ClaimedBy: c.Query("claimed_by"),
		ProcessID: c.Query("process_id"),
	}
	if err := c.ShouldBindQuery(&f.Pagination); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	out, err := h.svc.List(c.Request.Context(), middleware.TenantID(c), f)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) get(c *gin.Context) {
	out, err := h.svc.Get(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
