package models

import "time"

// Account описывает одну зарегистрированную учётную запись Telegram.
// ID генерируется при создании, телефон служит ключом уникальности.
type Account struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	Name        string    `json:"name"`
	Active      bool      `json:"active"`
	SessionFile string    `json:"session_file"`
	CreatedAt   time.Time `json:"created_at"`
	Proxy       *Proxy    `json:"proxy,omitempty"`
}

// Proxy хранит параметры SOCKS5-прокси, через который ходит аккаунт.
type Proxy struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
}
