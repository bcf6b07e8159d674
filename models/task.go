package models

// Типы задач автоматизации.
const (
	TaskTypeSend   = "send"
	TaskTypeListen = "listen"
)

// Task — единица автоматизации: либо отправка сообщения по крону,
// либо непрерывное прослушивание канала.
// AccountID пустой — задача выполняется от имени активного аккаунта
// на момент запуска.
type Task struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	AccountID string `json:"account_id,omitempty"`
	Enabled   bool   `json:"enabled"`

	// Поля send-задачи.
	Cron    string `json:"cron,omitempty"`
	To      string `json:"to,omitempty"`
	Message string `json:"message,omitempty"`
	RunOnce bool   `json:"run_once,omitempty"`

	// Поле listen-задачи.
	Channel string `json:"channel,omitempty"`
}
