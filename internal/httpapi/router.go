// Package httpapi exposes the memory service over HTTP.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rcliao/avatar-memory/internal/logger"
)

const serviceName = "avatar-memory"

type RouterConfig struct {
	Log           *logger.Logger
	CORSOrigins   []string
	MemoryHandler *MemoryHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(RequestID())
	r.Use(RequestLogger(cfg.Log))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/healthcheck", HealthCheck)

	if h := cfg.MemoryHandler; h != nil {
		mem := r.Group("/avatar/memory")
		{
			mem.POST("/insert", h.Insert)
			mem.POST("/delete/by-file", h.DeleteByFile)
			mem.GET("/debug/last-insert", h.LastInsert)
			mem.GET("/state", h.State)
		}
	}
	return r
}
