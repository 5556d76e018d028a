package process

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
	g := r.Group("/processes")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)

	g.POST("/:id/versions", h.createVersion)
	g.GET("/:id/versions", h.listVersions)
	g.GET("/:id/versions/active", h.activeVersion)
	g.POST("/:id/versions/:vid/activate", h.activateVersion)
	g.POST("/:id/versions/:vid/package", h.uploadPackage)
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	out, err := h.svc.Create(c.Request.Context(), middleware.TenantID(c), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) list(c *gin.Context) {
	f := ListFilter{
		Type: c.Query("type"),
		Tag:  c.Query("tag"),
		Name: c.Query("name"),
	}
	if raw, ok := c.GetQuery("include_deleted"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.Error(errutil.ValidationFailed("include_deleted must be a boolean"))
			return
		}
		f.IncludeDeleted = v
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

func (h *Handler) createVersion(c *gin.Context) {
	var in CreateVersionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.ValidationFailed(err.Error()))
		return
	}

	out, err := h.svc.CreateVersion(c.Request.Context(), middleware.TenantID(c), c.Param("id"), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) listVersions(c *gin.Context) {
	out, err := h.svc.ListVersions(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) activeVersion(c *gin.Context) {
	out, err := h.svc.GetActiveVersion(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if out == nil {
		c.Error(errutil.NotFound("process has no active version"))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) activateVersion(c *gin.Context) {
	out, err := h.svc.ActivateVersion(c.Request.Context(), middleware.TenantID(c), c.Param("id"), c.Param("vid"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) uploadPackage(c *gin.Context) {
	file, header, err := c.Request.FormFile("package")
	if err != nil {
		c.Error(errutil.ValidationFailed("multipart field \"package\" is required"))
		return
	}
	defer file.Close()

	out, err := h.svc.UploadPackage(
		c.Request.Context(),
		middleware.TenantID(c),
		c.Param("id"),
		c.Param("vid"),
		file,
		header.Size,
	)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
