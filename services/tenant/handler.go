package tenant

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

// RegisterPublic mounts the unauthenticated bootstrap route.
func (h *Handler) RegisterPublic(r gin.IRouter) {
	r.POST("/tenants", h.create)
}

// Register mounts tenant-scoped routes behind the auth middleware.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/tenants/me", h.me)
}

func (h *Handler) create(c *gin.Context) {
	var in CreateTenantInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	out, err := h.svc.CreateTenant(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) me(c *gin.Context) {
	t, err := h.svc.GetTenant(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, t)
}
