// Package accounts — HTTP-адаптеры каталога аккаунтов.
package accounts

import (
	"log"
	"net/http"

	"tg_hub/internal/httputil"
	"tg_hub/models"
	"tg_hub/pkg/orchestrator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Orch *orchestrator.Orchestrator
}

func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{Orch: orch}
}

// Create регистрирует аккаунт. Первый аккаунт становится активным.
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		Phone string        `json:"phone" binding:"required"`
		Name  string        `json:"name"`
		Proxy *models.Proxy `json:"proxy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	acc, err := h.Orch.AddAccount(req.Phone, req.Name, req.Proxy)
	if err != nil {
		log.Printf("[ACCOUNTS] создание не удалось: %v", err)
		httputil.RespondError(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, acc)
}

// List возвращает каталог аккаунтов.
func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": h.Orch.Accounts()})
}

// Get возвращает один аккаунт.
func (h *Handler) Get(c *gin.Context) {
	acc, err := h.Orch.Account(c.Param("id"))
	if err != nil {
		httputil.RespondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, acc)
}

// Update меняет имя и прокси аккаунта.
func (h *Handler) Update(c *gin.Context) {
	var req struct {
		Name  string        `json:"name"`
		Proxy *models.Proxy `json:"proxy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	acc, err := h.Orch.UpdateAccount(c.Param("id"), req.Name, req.Proxy)
	if err != nil {
		httputil.RespondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, acc)
}

// Delete удаляет аккаунт вместе с его сессией и файлом сессии.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.Orch.RemoveAccount(c.Param("id")); err != nil {
		httputil.RespondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "удалён"})
}

// Switch делает аккаунт активным. Все непривязанные задачи с этого
// момента исполняются от его имени.
func (h *Handler) Switch(c *gin.Context) {
	found, err := h.Orch.SwitchAccount(c.Param("id"))
	if err != nil {
		httputil.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		httputil.RespondError(c, http.StatusNotFound, "Аккаунт не найден")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "переключён"})
}

// Health — состояние одного аккаунта.
func (h *Handler) Health(c *gin.Context) {
	health, err := h.Orch.Health(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, health)
}

// AllHealth — агрегатное состояние всех аккаунтов.
func (h *Handler) AllHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": h.Orch.AllHealth(c.Request.Context())})
}
