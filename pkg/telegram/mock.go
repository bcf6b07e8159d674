package telegram

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tg_hub/models"
)

// SentMessage — запись исходящего сообщения мок-транспорта.
type SentMessage struct {
	To   string
	Text string
	ID   int
}

// MockClient — транспорт в памяти. Используется тестами и режимом
// mock_mode, когда реальный протокол недоступен. Поведение задаётся
// сценарием: правильный код, пароль 2FA, число неудачных подключений,
// ленты сообщений по адресатам.
type MockClient struct {
	mu sync.Mutex

	code     string
	password string

	connectFailures int
	connected       bool
	authorized      bool
	selfID          int64

	nextPeerID int64
	peers      map[string]PeerRef
	feeds      map[string][]models.Message
	nextMsgID  int
	sent       []SentMessage
}

// NewMockClient создаёт мок с принятым кодом "12345" и без 2FA.
func NewMockClient() *MockClient {
	return &MockClient{
		code:      "12345",
		selfID:    1,
		peers:     make(map[string]PeerRef),
		feeds:     make(map[string][]models.Message),
		nextMsgID: 100,
	}
}

// Сценарные настройки.

func (c *MockClient) SetCode(code string) { c.mu.Lock(); c.code = code; c.mu.Unlock() }

func (c *MockClient) SetPassword(password string) {
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
}

func (c *MockClient) SetConnectFailures(n int) {
	c.mu.Lock()
	c.connectFailures = n
	c.mu.Unlock()
}

func (c *MockClient) SetAuthorized(v bool) { c.mu.Lock(); c.authorized = v; c.mu.Unlock() }

// FeedMessage добавляет сообщение в ленту адресата с автоинкрементным ID.
func (c *MockClient) FeedMessage(target string, m models.Message) models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.ID == 0 {
		c.nextMsgID++
		m.ID = c.nextMsgID
	} else if m.ID > c.nextMsgID {
		c.nextMsgID = m.ID
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}
	c.feeds[target] = append(c.feeds[target], m)
	return m
}

// Sent возвращает копию журнала исходящих.
func (c *MockClient) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// Транспортные примитивы.

func (c *MockClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectFailures > 0 {
		c.connectFailures--
		return fmt.Errorf("соединение отклонено (сценарий мока)")
	}
	c.connected = true
	return nil
}

func (c *MockClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *MockClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MockClient) Authorized(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized, nil
}

func (c *MockClient) Self(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID, nil
}

func (c *MockClient) SendCode(ctx context.Context, phone string) (string, error) {
	if !c.Connected() {
		return "", fmt.Errorf("соединение не установлено")
	}
	return "hash:" + phone, nil
}

func (c *MockClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if codeHash != "hash:"+phone {
		return fmt.Errorf("неизвестный хеш кода")
	}
	if code != c.code {
		return fmt.Errorf("код не принят")
	}
	if c.password != "" {
		return ErrPasswordRequired
	}
	c.authorized = true
	return nil
}

func (c *MockClient) CheckPassword(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if password != c.password {
		return fmt.Errorf("пароль не принят")
	}
	c.authorized = true
	return nil
}

func (c *MockClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized = false
	return nil
}

func (c *MockClient) SendMessage(ctx context.Context, to, text string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, fmt.Errorf("соединение не установлено")
	}
	if !c.authorized {
		return 0, ErrNotAuthorized
	}
	c.nextMsgID++
	c.sent = append(c.sent, SentMessage{To: to, Text: text, ID: c.nextMsgID})
	return c.nextMsgID, nil
}

func (c *MockClient) ResolvePeer(ctx context.Context, target string) (PeerRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, ok := c.peers[target]; ok {
		return ref, nil
	}
	c.nextPeerID++
	ref := PeerRef{Kind: PeerChannel, ID: c.nextPeerID, Title: target}
	c.peers[target] = ref
	return ref, nil
}

func (c *MockClient) History(ctx context.Context, peer PeerRef, minID, limit int) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Message
	for _, m := range c.feeds[peer.Title] {
		if m.ID > minID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	// Как и MTProto, отдаём самые свежие limit сообщений.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
