// Package telegram содержит клиентскую часть оркестратора: транспорт
// (реальный gotd-клиент и мок), машину состояний входа и реестр сессий
// по аккаунтам.
package telegram

import (
	"context"
	"errors"

	"tg_hub/models"
)

// Ошибки протокольного уровня, на которые реагируют обработчики.
var (
	// ErrPasswordRequired — сервер требует пароль двухфакторной защиты.
	ErrPasswordRequired = errors.New("требуется пароль двухфакторной аутентификации")
	// ErrNotAuthorized — аккаунт не авторизован, операция невозможна.
	ErrNotAuthorized = errors.New("аккаунт не авторизован")
)

// Виды адресатов.
type PeerKind int

const (
	PeerUser PeerKind = iota
	PeerChannel
	PeerChat
)

// PeerRef — разрешённый адресат. Резолвим его один раз и дальше
// работаем по ID и access hash, как того требует MTProto.
type PeerRef struct {
	Kind       PeerKind
	ID         int64
	AccessHash int64
	Title      string
}

// Client — транспортные примитивы протокола. Машина состояний входа и
// цикл прослушивания живут уровнем выше, в Session, поэтому обе
// реализации (gotd и мок) разделяют одну и ту же семантику.
//
// History обязан возвращать самые свежие limit сообщений с ID строго
// больше minID, отсортированные по возрастанию ID.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	Authorized(ctx context.Context) (bool, error)
	Self(ctx context.Context) (int64, error)

	SendCode(ctx context.Context, phone string) (string, error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	CheckPassword(ctx context.Context, password string) error
	Logout(ctx context.Context) error

	SendMessage(ctx context.Context, to, text string) (int, error)
	ResolvePeer(ctx context.Context, target string) (PeerRef, error)
	History(ctx context.Context, peer PeerRef, minID, limit int) ([]models.Message, error)
}

// ClientFactory создаёт транспорт для аккаунта. Выбор реализации
// (реальная или мок) делается при сборке приложения.
type ClientFactory func(acc models.Account) Client
