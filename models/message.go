package models

import "time"

// Message — сообщение Telegram в том объёме, который нужен оркестратору.
// Out выставляется для исходящих сообщений самого аккаунта.
type Message struct {
	ID       int        `json:"id"`
	Text     string     `json:"text"`
	SenderID int64      `json:"sender_id"`
	Sender   string     `json:"sender,omitempty"`
	Date     time.Time  `json:"date"`
	Out      bool       `json:"out"`
	Photo    *PhotoMeta `json:"photo,omitempty"`
}

// PhotoMeta — метаданные фотографии сообщения, извлекаются по возможности.
type PhotoMeta struct {
	ID     int64 `json:"id"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Size   int   `json:"size"`
}
