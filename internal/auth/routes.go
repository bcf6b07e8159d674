package auth

import (
	"log"

	"tg_hub/pkg/orchestrator"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.RouterGroup, orch *orchestrator.Orchestrator) {
	handler := NewHandler(orch)
	r.POST("/send_code", handler.SendCode)
	r.POST("/verify", handler.Verify)
	r.POST("/logout", handler.Logout)

	log.Printf("[ROUTER] Auth routes registered")
}
