package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tg_hub/models"

	"github.com/google/uuid"
)

// SessionConfig — параметры поведения сессии.
type SessionConfig struct {
	// ConnectAttempts — число попыток подключения транспорта.
	ConnectAttempts int
	// ConnectDelay — базовая задержка между попытками, растёт линейно.
	ConnectDelay time.Duration
	// PollInterval — пауза между циклами опроса канала.
	PollInterval time.Duration
	// LoginStateTTL — срок жизни незавершённого входа; 0 — без
	// истечения (поведение исходной системы, записи копятся).
	LoginStateTTL time.Duration
}

// DefaultSessionConfig — значения по умолчанию для боевого режима.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectAttempts: 3,
		ConnectDelay:    2 * time.Second,
		PollInterval:    5 * time.Second,
	}
}

// Session — машина состояний входа и операций одного аккаунта поверх
// транспорта Client. Живёт столько же, сколько процесс: реестр
// мемоизирует по одной сессии на аккаунт.
type Session struct {
	account models.Account
	client  Client
	cfg     SessionConfig

	// mu защищает pending и status; сетевые вызовы под ним не держим.
	mu sync.Mutex
	// pending — незавершённые входы по state_id. Без TTL записи
	// никогда не удаляются — известная особенность, управляемая
	// конфигом LoginStateTTL.
	pending map[string]*models.LoginState
	status  models.SessionStatus
}

// NewSession создаёт сессию аккаунта поверх готового транспорта.
func NewSession(acc models.Account, client Client, cfg SessionConfig) *Session {
	return &Session{
		account: acc,
		client:  client,
		cfg:     cfg,
		pending: make(map[string]*models.LoginState),
		status:  models.StatusUnauthenticated,
	}
}

// Account возвращает аккаунт сессии.
func (s *Session) Account() models.Account { return s.account }

// Client открывает транспорт сессии — нужен тестам и реестру.
func (s *Session) Client() Client { return s.client }

// EnsureConnected подключает транспорт с ограниченным числом попыток
// и линейно растущей задержкой. При успехе gotd сам сохраняет токен
// сессии в файл аккаунта.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if s.client.Connected() {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ConnectAttempts; attempt++ {
		lastErr = s.client.Connect(ctx)
		if lastErr == nil {
			if ok, err := s.client.Authorized(ctx); err == nil && ok {
				s.setStatus(models.StatusAuthorized)
			}
			return nil
		}
		log.Printf("[SESSION] %s: подключение не удалось (попытка %d/%d): %v",
			s.account.Phone, attempt, s.cfg.ConnectAttempts, lastErr)
		if attempt < s.cfg.ConnectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.ConnectDelay):
			}
		}
	}
	return fmt.Errorf("подключение %s не удалось после %d попыток: %w",
		s.account.Phone, s.cfg.ConnectAttempts, lastErr)
}

// SendCode запрашивает код подтверждения и возвращает state_id,
// которым адресуется последующий Verify.
func (s *Session) SendCode(ctx context.Context, phone string) (string, error) {
	if phone == "" {
		phone = s.account.Phone
	}
	if err := s.EnsureConnected(ctx); err != nil {
		return "", err
	}
	hash, err := s.client.SendCode(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("запрос кода для %s: %w", phone, err)
	}

	s.mu.Lock()
	s.pruneExpired()
	stateID := uuid.NewString()
	s.pending[stateID] = &models.LoginState{
		Phone:         phone,
		PhoneCodeHash: hash,
		Status:        models.StatusCodeSent,
		CreatedAt:     time.Now(),
	}
	s.status = models.StatusCodeSent
	s.mu.Unlock()
	log.Printf("[SESSION] %s: код отправлен, state_id=%s", phone, stateID)
	return stateID, nil
}

// Verify подтверждает вход кодом и, при необходимости, паролем 2FA.
// Неверный код и неверный пароль не повторяются автоматически:
// запись входа сохраняется, вызывающий присылает данные заново.
func (s *Session) Verify(ctx context.Context, stateID, code, password string) error {
	s.mu.Lock()
	s.pruneExpired()
	state, ok := s.pending[stateID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("неизвестный или истёкший state_id %s, запросите код заново", stateID)
	}
	snapshot := *state
	s.mu.Unlock()

	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	if snapshot.Status == models.StatusPasswordRequired {
		return s.verifyPassword(ctx, stateID, password)
	}

	if err := s.client.SignIn(ctx, snapshot.Phone, code, snapshot.PhoneCodeHash); err != nil {
		if errors.Is(err, ErrPasswordRequired) {
			s.mu.Lock()
			state.Status = models.StatusPasswordRequired
			s.status = models.StatusPasswordRequired
			s.mu.Unlock()
			if password != "" {
				return s.verifyPassword(ctx, stateID, password)
			}
			return ErrPasswordRequired
		}
		return err
	}

	s.mu.Lock()
	delete(s.pending, stateID)
	s.status = models.StatusAuthorized
	s.mu.Unlock()
	log.Printf("[SESSION] %s: авторизация завершена", snapshot.Phone)
	return nil
}

// verifyPassword — ветка двухфакторного входа.
func (s *Session) verifyPassword(ctx context.Context, stateID, password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if err := s.client.CheckPassword(ctx, password); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pending, stateID)
	s.status = models.StatusAuthorized
	s.mu.Unlock()
	log.Printf("[SESSION] %s: авторизация по паролю завершена", s.account.Phone)
	return nil
}

// Logout с непустым state_id отбрасывает незавершённый вход; с пустым —
// завершает авторизацию аккаунта на сервере.
func (s *Session) Logout(ctx context.Context, stateID string) error {
	if stateID != "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.pending[stateID]; !ok {
			return fmt.Errorf("неизвестный state_id %s", stateID)
		}
		delete(s.pending, stateID)
		if s.status != models.StatusAuthorized {
			s.status = models.StatusUnauthenticated
		}
		return nil
	}
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := s.client.Logout(ctx); err != nil {
		return err
	}
	s.setStatus(models.StatusUnauthenticated)
	return nil
}

// SendMessage отправляет текст адресату. Требует авторизации.
func (s *Session) SendMessage(ctx context.Context, to, text string) (int, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return 0, err
	}
	ok, err := s.client.Authorized(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("аккаунт %s: %w", s.account.Phone, ErrNotAuthorized)
	}
	id, err := s.client.SendMessage(ctx, to, text)
	if err != nil {
		return 0, err
	}
	log.Printf("[SESSION] %s -> %s: сообщение %d отправлено", s.account.Phone, to, id)
	return id, nil
}

// WaitForFirstReply опрашивает диалог, пока не появится входящее
// сообщение новее sinceID не от selfID, либо не истечёт timeout.
// Возвращает nil без ошибки, если ответа не дождались.
func (s *Session) WaitForFirstReply(ctx context.Context, to string, sinceID int, selfID int64, timeout time.Duration) (*models.Message, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	ref, err := s.client.ResolvePeer(ctx, to)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		msgs, err := s.client.History(ctx, ref, sinceID, 20)
		if err != nil {
			log.Printf("[SESSION] %s: опрос ответа от %s: %v", s.account.Phone, to, err)
		}
		for _, m := range msgs {
			if !m.Out && m.SenderID != selfID {
				reply := m
				return &reply, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// monitorBatch — сколько сообщений забираем за один цикл опроса.
const monitorBatch = 50

// MonitorChannel — кооперативный цикл прослушивания канала. Канал
// резолвится один раз, базовой точкой берётся текущее новейшее
// сообщение, поэтому история никогда не проигрывается заново: пока
// базовая точка не получена, опрос сообщений не начинается. Каждый
// цикл забирает только сообщения новее последнего увиденного,
// обрабатывает их от старых к новым и монотонно сдвигает границу.
// Ошибки цикла логируются, цикл продолжается. Отмена контекста
// проверяется один раз за цикл: начатый сетевой вызов довершается.
func (s *Session) MonitorChannel(ctx context.Context, channel string, onMessage func(models.Message)) error {
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}
	ref, err := s.client.ResolvePeer(ctx, channel)
	if err != nil {
		return fmt.Errorf("канал %s: %w", channel, err)
	}

	lastSeen := 0
	for {
		recent, err := s.client.History(ctx, ref, 0, 1)
		if err == nil {
			if len(recent) > 0 {
				lastSeen = recent[len(recent)-1].ID
			}
			break
		}
		// Без базовой точки цикл запускать нельзя: первый же опрос
		// проиграл бы накопленную историю как новые сообщения.
		log.Printf("[SESSION] %s: базовая точка канала %s: %v", s.account.Phone, channel, err)
		select {
		case <-ctx.Done():
			log.Printf("[SESSION] %s: прослушивание %s остановлено", s.account.Phone, channel)
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
	log.Printf("[SESSION] %s: прослушивание %s начато с ID %d", s.account.Phone, channel, lastSeen)

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("[SESSION] %s: прослушивание %s остановлено", s.account.Phone, channel)
			return err
		}

		msgs, err := s.client.History(ctx, ref, lastSeen, monitorBatch)
		if err != nil {
			// Переживаем сбой цикла: следующая итерация может пройти.
			log.Printf("[SESSION] %s: цикл опроса %s: %v", s.account.Phone, channel, err)
		}
		for _, m := range msgs {
			if m.ID <= lastSeen {
				continue
			}
			lastSeen = m.ID
			onMessage(m)
		}

		select {
		case <-ctx.Done():
			log.Printf("[SESSION] %s: прослушивание %s остановлено", s.account.Phone, channel)
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// Health собирает снимок состояния аккаунта. Сюда не входит таймаут:
// гонку со временем устраивает реестр на агрегатной проверке.
func (s *Session) Health(ctx context.Context) models.AccountHealth {
	h := models.AccountHealth{
		AccountID: s.account.ID,
		Phone:     s.account.Phone,
		Name:      s.account.Name,
		Active:    s.account.Active,
		CheckedAt: time.Now(),
	}
	h.Connected = s.client.Connected()
	if !h.Connected {
		if err := s.EnsureConnected(ctx); err != nil {
			h.Error = err.Error()
			return h
		}
		h.Connected = true
	}
	ok, err := s.client.Authorized(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Authorized = ok
	return h
}

// Status возвращает текущее состояние машины входа.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PendingLogins возвращает число незавершённых входов после ленивой
// чистки — диагностика накопления state_id.
func (s *Session) PendingLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpired()
	return len(s.pending)
}

func (s *Session) setStatus(st models.SessionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// pruneExpired лениво удаляет просроченные незавершённые входы.
// Вызывается под мьютексом; при нулевом TTL ничего не делает.
func (s *Session) pruneExpired() {
	if s.cfg.LoginStateTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.LoginStateTTL)
	for id, st := range s.pending {
		if st.CreatedAt.Before(cutoff) {
			delete(s.pending, id)
		}
	}
}
