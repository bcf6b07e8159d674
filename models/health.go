package models

import "time"

// AccountHealth — снимок состояния одного аккаунта для эндпоинта здоровья.
// Error заполняется при сбое или таймауте проверки.
type AccountHealth struct {
	AccountID  string    `json:"account_id"`
	Phone      string    `json:"phone"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	Connected  bool      `json:"connected"`
	Authorized bool      `json:"authorized"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}
