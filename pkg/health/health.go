package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Health struct {
	Status string       `json:"status"`
	Deps   []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p Params) HealthService {
	return &health{db: p.DB, redis: p.Redis}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, Health{Status: "ok"})
}

func (h *health) Readiness(c *gin.Context) {
	deps := make([]Dependency, 0, 2)
	healthy := true

	dbDep := Dependency{Name: "database", Status: "ok"}
	if sqlDB, err := h.db.DB(); err != nil {
		dbDep.Status = "down"
		dbDep.Message = err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbDep.Status = "down"
		dbDep.Message = err.Error()
		healthy = false
	}
	deps = append(deps, dbDep)

	if h.redis != nil {
		redisDep := Dependency{Name: "redis", Status: "ok"}
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			redisDep.Status = "down"
			redisDep.Message = err.Error()
			healthy = false
		}
		deps = append(deps, redisDep)
	}

	status := http.StatusOK
	out := Health{Status: "ok", Deps: deps}
	if !healthy {
		status = http.StatusServiceUnavailable
		out.Status = "degraded"
	}
	c.JSON(status, out)
}
