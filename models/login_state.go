package models

import "time"

// Статусы сессии и незавершённого входа.
type SessionStatus string

const (
	StatusUnauthenticated  SessionStatus = "unauthenticated"
	StatusCodeSent         SessionStatus = "code_sent"
	StatusPasswordRequired SessionStatus = "password_required"
	StatusAuthorized       SessionStatus = "authorized"
)

// LoginState — незавершённая попытка входа, адресуемая по state_id.
// Хеш кода приходит от сервера при отправке SMS и нужен для подтверждения.
type LoginState struct {
	Phone         string        `json:"phone"`
	PhoneCodeHash string        `json:"phone_code_hash"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}
