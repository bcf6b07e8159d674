// Package tasks — HTTP-адаптеры каталога задач и немедленных отправок.
package tasks

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

// taskRequest — тело создания/обновления задачи. Enabled указателем:
// отсутствие поля означает "включена", а не false.
type taskRequest struct {
	Type      string `json:"type" binding:"required"`
	AccountID string `json:"account_id"`
	Enabled   *bool  `json:"enabled"`
	Cron      string `json:"cron"`
	To        string `json:"to"`
	Message   string `json:"message"`
	RunOnce   bool   `json:"run_once"`
	Channel   string `json:"channel"`
}

func (r taskRequest) toTask() models.Task {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return models.Task{
		Type:      r.Type,
		AccountID: r.AccountID,
		Enabled:   enabled,
		Cron:      r.Cron,
		To:        r.To,
		Message:   r.Message,
		RunOnce:   r.RunOnce,
		Channel:   r.Channel,
	}
}

// List возвращает задачи, опционально отфильтрованные по аккаунту.
func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.Orch.Tasks(c.Query("account_id"))})
}

// Create сохраняет задачу и сразу вводит её в работу.
func (h *Handler) Create(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	task, err := h.Orch.CreateTask(req.toTask())
	if err != nil {
		log.Printf("[TASKS] создание не удалось: %v", err)
		httputil.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

// Update применяет изменения задачи.
func (h *Handler) Update(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	task, err := h.Orch.UpdateTask(c.Param("id"), req.toTask())
	if err != nil {
		httputil.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

// Delete удаляет задачу и останавливает её прослушиватель.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.Orch.DeleteTask(c.Param("id")); err != nil {
		httputil.RespondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "удалена"})
}

// RunNow выполняет send-задачу немедленно, минуя крон и флаг enabled.
func (h *Handler) RunNow(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	// Тело необязательно: без него задача идёт от своего аккаунта.
	_ = c.ShouldBindJSON(&req)

	msgID, err := h.Orch.RunTaskNow(c.Request.Context(), c.Param("id"), req.AccountID)
	if err != nil {
		log.Printf("[TASKS] немедленный запуск не удался: %v", err)
		httputil.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "выполнена", "message_id": msgID})
}

// SendNow отправляет сообщение немедленно, без задачи.
func (h *Handler) SendNow(c *gin.Context) {
	var req struct {
		To        string `json:"to" binding:"required"`
		Message   string `json:"message" binding:"required"`
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "Неверные данные")
		return
	}

	msgID, err := h.Orch.SendNow(c.Request.Context(), req.AccountID, req.To, req.Message)
	if err != nil {
		httputil.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "отправлено", "message_id": msgID})
}
