package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"tg_hub/models"

	"golang.org/x/net/proxy"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
)

// GotdClient — транспорт поверх gotd/td. Соединение долгоживущее:
// Connect поднимает client.Run в горутине и держит его до Close,
// токен сессии сохраняется в файл аккаунта, поэтому перезапуск
// процесса возобновляет авторизацию без повторного входа.
type GotdClient struct {
	apiID       int
	apiHash     string
	phone       string
	sessionFile string
	proxy       *models.Proxy

	mu        sync.Mutex
	client    *telegram.Client
	api       *tg.Client
	stop      context.CancelFunc
	done      chan error
	connected bool
}

// NewGotdClient готовит транспорт для аккаунта. Путь файла сессии
// обязан быть абсолютным — его формирует каталог аккаунтов.
func NewGotdClient(apiID int, apiHash string, acc models.Account) *GotdClient {
	return &GotdClient{
		apiID:       apiID,
		apiHash:     apiHash,
		phone:       acc.Phone,
		sessionFile: acc.SessionFile,
		proxy:       acc.Proxy,
	}
}

// Connect открывает соединение и дожидается готовности клиента.
// Повторный вызов на открытом соединении — no-op.
func (c *GotdClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	opts := telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{Path: c.sessionFile},
		Random:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if c.proxy != nil {
		addr := fmt.Sprintf("%s:%d", c.proxy.IP, c.proxy.Port)
		var pauth *proxy.Auth
		if c.proxy.Login != "" || c.proxy.Password != "" {
			pauth = &proxy.Auth{User: c.proxy.Login, Password: c.proxy.Password}
		}
		d, err := proxy.SOCKS5("tcp", addr, pauth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("proxy dialer: %w", err)
		}
		dc, ok := d.(proxy.ContextDialer)
		if !ok {
			return fmt.Errorf("proxy dialer missing context")
		}
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dc.DialContext})
		log.Printf("[PROXY] %s via %s", c.phone, addr)
	}

	client := telegram.NewClient(c.apiID, c.apiHash, opts)
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			// Держим соединение до отмены: Run закрывает транспорт,
			// как только колбэк возвращается.
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		c.client = client
		c.api = client.API()
		c.stop = cancel
		c.done = done
		c.connected = true
		log.Printf("[CLIENT] %s: соединение установлено", c.phone)
		return nil
	case err := <-done:
		cancel()
		return fmt.Errorf("подключение %s: %w", c.phone, err)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Close разрывает соединение и дожидается завершения Run.
func (c *GotdClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.stop()
	<-c.done
	c.connected = false
	c.client = nil
	c.api = nil
	return nil
}

func (c *GotdClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Authorized спрашивает у сервера статус авторизации текущей сессии.
func (c *GotdClient) Authorized(ctx context.Context) (bool, error) {
	client, err := c.running()
	if err != nil {
		return false, err
	}
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Authorized, nil
}

// Self возвращает ID собственного пользователя.
func (c *GotdClient) Self(ctx context.Context) (int64, error) {
	client, err := c.running()
	if err != nil {
		return 0, err
	}
	user, err := client.Self(ctx)
	if err != nil {
		return 0, fmt.Errorf("не удалось получить информацию о пользователе: %w", err)
	}
	return user.ID, nil
}

// SendCode запрашивает у Telegram код подтверждения для номера.
func (c *GotdClient) SendCode(ctx context.Context, phone string) (string, error) {
	client, err := c.running()
	if err != nil {
		return "", err
	}
	sentCode, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", err
	}
	sent, ok := sentCode.(*tg.AuthSentCode)
	if !ok {
		log.Printf("[ERROR] Unexpected sent code type: %T", sentCode)
		return "", fmt.Errorf("unexpected sent code type: %T", sentCode)
	}
	return sent.PhoneCodeHash, nil
}

// SignIn подтверждает вход кодом. Требование двухфакторного пароля
// транслируется в ErrPasswordRequired.
func (c *GotdClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	client, err := c.running()
	if err != nil {
		return err
	}
	if _, err := client.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		if errors.Is(err, auth.ErrPasswordAuthNeeded) {
			return ErrPasswordRequired
		}
		return fmt.Errorf("ошибка авторизации: %w", err)
	}
	return nil
}

// CheckPassword завершает вход паролем 2FA (SRP выполняет gotd).
func (c *GotdClient) CheckPassword(ctx context.Context, password string) error {
	client, err := c.running()
	if err != nil {
		return err
	}
	if _, err := client.Auth().Password(ctx, password); err != nil {
		return fmt.Errorf("пароль не принят: %w", err)
	}
	return nil
}

// Logout завершает авторизацию на сервере.
func (c *GotdClient) Logout(ctx context.Context) error {
	api, err := c.runningAPI()
	if err != nil {
		return err
	}
	if _, err := api.AuthLogOut(ctx); err != nil {
		return fmt.Errorf("выход не выполнен: %w", err)
	}
	return nil
}

// SendMessage отправляет текст адресату и возвращает ID сообщения.
func (c *GotdClient) SendMessage(ctx context.Context, to, text string) (int, error) {
	api, err := c.runningAPI()
	if err != nil {
		return 0, err
	}
	ref, err := c.ResolvePeer(ctx, to)
	if err != nil {
		return 0, err
	}
	updates, err := api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     inputPeer(ref),
		Message:  text,
		RandomID: rand.Int63(),
	})
	if err != nil {
		return 0, fmt.Errorf("отправка сообщения %s: %w", to, err)
	}
	return sentMessageID(updates), nil
}

// ResolvePeer разрешает @username, ссылку t.me или номер телефона
// в адресата с access hash.
func (c *GotdClient) ResolvePeer(ctx context.Context, target string) (PeerRef, error) {
	api, err := c.runningAPI()
	if err != nil {
		return PeerRef{}, err
	}

	if username, ok := extractUsername(target); ok {
		resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		if err != nil {
			return PeerRef{}, fmt.Errorf("не удалось разрешить %s: %w", target, err)
		}
		return refFromResolved(resolved.Peer, resolved.Users, resolved.Chats, target)
	}

	resolved, err := api.ContactsResolvePhone(ctx, phoneDigitsOnly(target))
	if err != nil {
		return PeerRef{}, fmt.Errorf("не удалось разрешить номер %s: %w", target, err)
	}
	return refFromResolved(resolved.Peer, resolved.Users, resolved.Chats, target)
}

// History возвращает сообщения адресата с ID больше minID,
// отсортированные по возрастанию.
func (c *GotdClient) History(ctx context.Context, peer PeerRef, minID, limit int) ([]models.Message, error) {
	api, err := c.runningAPI()
	if err != nil {
		return nil, err
	}
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  inputPeer(peer),
		MinID: minID,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	var raw []tg.MessageClass
	var users []tg.UserClass
	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		raw, users = h.Messages, h.Users
	case *tg.MessagesMessagesSlice:
		raw, users = h.Messages, h.Users
	case *tg.MessagesMessages:
		raw, users = h.Messages, h.Users
	default:
		return nil, fmt.Errorf("unexpected messages type: %T", history)
	}

	userIndex := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			userIndex[user.ID] = user
		}
	}

	var out []models.Message
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		if msg.ID <= minID {
			continue
		}
		out = append(out, convertMessage(msg, userIndex))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// running возвращает клиент под мьютексом или ошибку, если соединение закрыто.
func (c *GotdClient) running() (*telegram.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("соединение %s не установлено", c.phone)
	}
	return c.client, nil
}

func (c *GotdClient) runningAPI() (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.api == nil {
		return nil, fmt.Errorf("соединение %s не установлено", c.phone)
	}
	return c.api, nil
}

// extractUsername принимает @username и ссылки вида https://t.me/name.
func extractUsername(target string) (string, bool) {
	switch {
	case strings.HasPrefix(target, "@"):
		return strings.TrimPrefix(target, "@"), true
	case strings.HasPrefix(target, "https://t.me/"):
		return strings.TrimSuffix(strings.TrimPrefix(target, "https://t.me/"), "/"), true
	case strings.HasPrefix(target, "t.me/"):
		return strings.TrimSuffix(strings.TrimPrefix(target, "t.me/"), "/"), true
	}
	// Всё, что не похоже на номер, трактуем как username без собаки.
	for _, r := range target {
		if (r < '0' || r > '9') && r != '+' && r != ' ' {
			return target, true
		}
	}
	return "", false
}

func phoneDigitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// refFromResolved собирает PeerRef из ответа contacts.resolve*.
func refFromResolved(peer tg.PeerClass, users []tg.UserClass, chats []tg.ChatClass, target string) (PeerRef, error) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		for _, u := range users {
			if user, ok := u.(*tg.User); ok && user.ID == p.UserID {
				return PeerRef{Kind: PeerUser, ID: user.ID, AccessHash: user.AccessHash, Title: target}, nil
			}
		}
	case *tg.PeerChannel:
		for _, ch := range chats {
			if channel, ok := ch.(*tg.Channel); ok && channel.ID == p.ChannelID {
				return PeerRef{Kind: PeerChannel, ID: channel.ID, AccessHash: channel.AccessHash, Title: channel.Title}, nil
			}
		}
	case *tg.PeerChat:
		return PeerRef{Kind: PeerChat, ID: p.ChatID, Title: target}, nil
	}
	return PeerRef{}, fmt.Errorf("адресат %s не найден в ответе сервера", target)
}

// inputPeer переводит PeerRef в InputPeerClass для запросов.
func inputPeer(r PeerRef) tg.InputPeerClass {
	switch r.Kind {
	case PeerChannel:
		return &tg.InputPeerChannel{ChannelID: r.ID, AccessHash: r.AccessHash}
	case PeerChat:
		return &tg.InputPeerChat{ChatID: r.ID}
	default:
		return &tg.InputPeerUser{UserID: r.ID, AccessHash: r.AccessHash}
	}
}

// sentMessageID извлекает ID отправленного сообщения из апдейтов.
func sentMessageID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, upd := range u.Updates {
			if m, ok := upd.(*tg.UpdateMessageID); ok {
				return m.ID
			}
		}
	}
	return 0
}

// convertMessage переводит tg.Message во внутреннюю модель,
// метаданные фотографии извлекаются по возможности.
func convertMessage(msg *tg.Message, users map[int64]*tg.User) models.Message {
	out := models.Message{
		ID:   msg.ID,
		Text: msg.Message,
		Date: time.Unix(int64(msg.Date), 0),
		Out:  msg.Out,
	}
	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		out.SenderID = from.UserID
		if user, ok := users[from.UserID]; ok {
			if user.Username != "" {
				out.Sender = "@" + user.Username
			} else {
				out.Sender = strings.TrimSpace(user.FirstName + " " + user.LastName)
			}
		}
	}
	if media, ok := msg.Media.(*tg.MessageMediaPhoto); ok {
		if photo, ok := media.Photo.(*tg.Photo); ok {
			meta := &models.PhotoMeta{ID: photo.ID}
			for _, size := range photo.Sizes {
				if s, ok := size.(*tg.PhotoSize); ok && s.W >= meta.Width {
					meta.Width, meta.Height, meta.Size = s.W, s.H, s.Size
				}
			}
			out.Photo = meta
		}
	}
	return out
}
