package tasks

import (
	"log"

	"tg_hub/pkg/orchestrator"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.RouterGroup, orch *orchestrator.Orchestrator) {
	handler := NewHandler(orch)
	r.GET("", handler.List)
	r.POST("", handler.Create)
	r.PUT("/:id", handler.Update)
	r.DELETE("/:id", handler.Delete)
	r.POST("/:id/run", handler.RunNow)
	r.POST("/send_now", handler.SendNow)

	log.Printf("[ROUTER] Task routes registered")
}
