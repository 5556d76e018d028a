package agent

import (
	"net/http"
	"strconv"

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
	g := r.Group("/agents")
	g.POST("", h.register)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/heartbeat", h.heartbeat)
}

func (h *Handler) register(c *gin.Context) {
	var in RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	out, err := h.svc.Register(c.Request.Context(), middleware.TenantID(c), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) list(c *gin.Context) {
	var f ListFilter
	if raw, ok := c.GetQuery("online"); ok {
		online, err := strconv.ParseBool(raw)
		if err != nil {
			c.Error(errutil.ValidationFailed("online must be a boolean"))
			return
		}
		f.Online = &online
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

func (h *Handler) update(c *gin.Context) {
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	out, err := h.svc.Update(c.Request.Context(), middleware.TenantID(c), c.Param("id"), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), middleware.TenantID(c), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) heartbeat(c *gin.Context) {
	var in HeartbeatInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.Error(errutil.ValidationFailed(err.Error()))
			return
		}
	}

	out, err := h.svc.Heartbeat(c.Request.Context(), middleware.TenantID(c), c.Param("id"), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
