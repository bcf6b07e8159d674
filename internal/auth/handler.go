// Package auth — HTTP-адаптеры входа: запрос кода, подтверждение,
// выход. Тонкий слой над оркестратором, без собственной логики.
package auth

import (
	"errors"
	"log"
	"net/http"

	"tg_hub/internal/httputil"
	"tg_hub/pkg/orchestrator"
	"tg_hub/pkg/telegram"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Orch *orchestrator.Orchestrator
}

func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{Orch: orch}
}

// SendCode запрашивает код подтверждения. Пустой account_id означает
// активный аккаунт, пустой phone — телефон этого аккаунта.
func (h *Handler) SendCode(c *gin.Context) {
	var req struct {
		Phone     string `json:"phone"`
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	stateID, err := h.Orch.SendCode(c.Request.Context(), req.AccountID, req.Phone)
	if err != nil {
		log.Printf("[AUTH] запрос кода не удался: %v", err)
		httputil.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"state_id": stateID, "status": "code_sent"})
}

// Verify подтверждает вход кодом и, при требовании сервера, паролем.
func (h *Handler) Verify(c *gin.Context) {
	var req struct {
		StateID   string `json:"state_id" binding:"required"`
		Code      string `json:"code"`
		Password  string `json:"password"`
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	err := h.Orch.Verify(c.Request.Context(), req.AccountID, req.StateID, req.Code, req.Password)
	if errors.Is(err, telegram.ErrPasswordRequired) {
		// Не ошибка: тот же state_id ждёт пароль двухфакторной защиты.
		c.JSON(http.StatusOK, gin.H{"status": "password_required", "state_id": req.StateID})
		return
	}
	if err != nil {
		log.Printf("[AUTH] подтверждение не удалось: %v", err)
		httputil.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "authorized"})
}

// Logout отбрасывает незавершённый вход (по state_id) либо
// разлогинивает аккаунт целиком.
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		StateID   string `json:"state_id"`
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	if err := h.Orch.Logout(c.Request.Context(), req.AccountID, req.StateID); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
