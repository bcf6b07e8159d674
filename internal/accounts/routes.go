package accounts

import (
	"log"

	"tg_hub/pkg/orchestrator"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.RouterGroup, orch *orchestrator.Orchestrator) {
	handler := NewHandler(orch)
	r.POST("", handler.Create)
	r.GET("", handler.List)
	r.GET("/health", handler.AllHealth)
	r.GET("/:id", handler.Get)
	r.PUT("/:id", handler.Update)
	r.DELETE("/:id", handler.Delete)
	r.POST("/:id/switch", handler.Switch)
	r.GET("/:id/health", handler.Health)

	log.Printf("[ROUTER] Account routes registered")
}
