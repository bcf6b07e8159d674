package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tg_hub/models"
)

func testSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectAttempts: 3,
		ConnectDelay:    time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}
}

func newTestSession(cfg SessionConfig) (*Session, *MockClient) {
	mock := NewMockClient()
	acc := models.Account{ID: "acc-1", Phone: "+15551234567", Name: "Primary", Active: true}
	return NewSession(acc, mock, cfg), mock
}

// TestSession_LoginFlow: код отправлен -> подтверждение -> авторизация.
func TestSession_LoginFlow(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())

	stateID, err := s.SendCode(ctx, "")
	if err != nil {
		t.Fatalf("неожиданная ошибка запроса кода: %v", err)
	}
	if stateID == "" {
		t.Fatalf("пустой state_id")
	}
	if s.Status() != models.StatusCodeSent {
		t.Fatalf("после запроса кода ожидался статус code_sent, получен %s", s.Status())
	}

	if err := s.Verify(ctx, stateID, "12345", ""); err != nil {
		t.Fatalf("подтверждение кода: %v", err)
	}
	if s.Status() != models.StatusAuthorized {
		t.Fatalf("после подтверждения ожидался статус authorized, получен %s", s.Status())
	}
	if ok, _ := mock.Authorized(ctx); !ok {
		t.Fatalf("транспорт не авторизован")
	}
	if s.PendingLogins() != 0 {
		t.Fatalf("запись входа должна быть удалена после успеха")
	}
}

// TestSession_VerifyWrongCode: неверный код — ошибка без автоповтора,
// запись входа сохраняется и принимает правильный код.
func TestSession_VerifyWrongCode(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(testSessionConfig())

	stateID, _ := s.SendCode(ctx, "")
	if err := s.Verify(ctx, stateID, "00000", ""); err == nil {
		t.Fatalf("неверный код должен вернуть ошибку")
	}
	if s.PendingLogins() != 1 {
		t.Fatalf("запись входа должна пережить неверный код")
	}
	if err := s.Verify(ctx, stateID, "12345", ""); err != nil {
		t.Fatalf("правильный код после неверного: %v", err)
	}
}

// TestSession_VerifyUnknownState: неизвестный state_id отклоняется
// с подсказкой запросить код заново.
func TestSession_VerifyUnknownState(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(testSessionConfig())

	err := s.Verify(ctx, "no-such-state", "12345", "")
	if err == nil {
		t.Fatalf("ожидалась ошибка о неизвестном state_id")
	}
	if !strings.Contains(err.Error(), "state_id") {
		t.Fatalf("ошибка не упоминает state_id: %v", err)
	}
}

// TestSession_TwoFactor: после кода требуется пароль, вход завершается
// только правильным паролем.
func TestSession_TwoFactor(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())
	mock.SetPassword("secret")

	stateID, _ := s.SendCode(ctx, "")

	err := s.Verify(ctx, stateID, "12345", "")
	if !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("ожидался ErrPasswordRequired, получено: %v", err)
	}
	if s.Status() != models.StatusPasswordRequired {
		t.Fatalf("ожидался статус password_required, получен %s", s.Status())
	}

	if err := s.Verify(ctx, stateID, "", "wrong"); err == nil {
		t.Fatalf("неверный пароль должен вернуть ошибку")
	}
	if s.PendingLogins() != 1 {
		t.Fatalf("запись входа должна пережить неверный пароль")
	}

	if err := s.Verify(ctx, stateID, "", "secret"); err != nil {
		t.Fatalf("правильный пароль: %v", err)
	}
	if s.Status() != models.StatusAuthorized {
		t.Fatalf("после пароля ожидался статус authorized")
	}
}

// TestSession_TwoFactorSingleCall: код и пароль в одном запросе
// проходят без промежуточного ответа password_required.
func TestSession_TwoFactorSingleCall(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())
	mock.SetPassword("secret")

	stateID, _ := s.SendCode(ctx, "")
	if err := s.Verify(ctx, stateID, "12345", "secret"); err != nil {
		t.Fatalf("код и пароль одним вызовом: %v", err)
	}
	if s.Status() != models.StatusAuthorized {
		t.Fatalf("ожидался статус authorized")
	}
}

// TestSession_EnsureConnectedRetries: ограниченные повторы подключения.
func TestSession_EnsureConnectedRetries(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())
	mock.SetConnectFailures(2)

	if err := s.EnsureConnected(ctx); err != nil {
		t.Fatalf("две неудачи при трёх попытках должны закончиться успехом: %v", err)
	}

	s2, mock2 := newTestSession(testSessionConfig())
	mock2.SetConnectFailures(5)
	if err := s2.EnsureConnected(ctx); err == nil {
		t.Fatalf("после исчерпания попыток ожидалась ошибка")
	}
}

// TestSession_LogoutDropsPending: logout со state_id отбрасывает
// незавершённый вход, не трогая авторизацию транспорта.
func TestSession_LogoutDropsPending(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())

	stateID, _ := s.SendCode(ctx, "")
	if err := s.Logout(ctx, stateID); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if s.PendingLogins() != 0 {
		t.Fatalf("запись входа должна быть отброшена")
	}
	if err := s.Logout(ctx, "no-such-state"); err == nil {
		t.Fatalf("неизвестный state_id должен вернуть ошибку")
	}

	// Полный logout завершает авторизацию на транспорте.
	mock.SetAuthorized(true)
	if err := s.Logout(ctx, ""); err != nil {
		t.Fatalf("полный logout: %v", err)
	}
	if ok, _ := mock.Authorized(ctx); ok {
		t.Fatalf("транспорт должен быть разлогинен")
	}
}

// TestSession_LoginStateTTL: просроченные записи входа лениво
// вычищаются, подтверждение по ним отклоняется.
func TestSession_LoginStateTTL(t *testing.T) {
	ctx := context.Background()
	cfg := testSessionConfig()
	cfg.LoginStateTTL = 10 * time.Millisecond
	s, _ := newTestSession(cfg)

	stateID, _ := s.SendCode(ctx, "")
	time.Sleep(20 * time.Millisecond)

	if got := s.PendingLogins(); got != 0 {
		t.Fatalf("просроченная запись не вычищена: %d", got)
	}
	if err := s.Verify(ctx, stateID, "12345", ""); err == nil {
		t.Fatalf("подтверждение по истёкшему state_id должно вернуть ошибку")
	}
}

// TestSession_SendMessageRequiresAuth: без авторизации отправка
// отклоняется с ErrNotAuthorized.
func TestSession_SendMessageRequiresAuth(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())

	if _, err := s.SendMessage(ctx, "@someone", "привет"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("ожидался ErrNotAuthorized, получено: %v", err)
	}

	mock.SetAuthorized(true)
	id, err := s.SendMessage(ctx, "@someone", "привет")
	if err != nil {
		t.Fatalf("неожиданная ошибка отправки: %v", err)
	}
	if id == 0 {
		t.Fatalf("ожидался ненулевой ID сообщения")
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "@someone" || sent[0].Text != "привет" {
		t.Fatalf("журнал исходящих не совпадает: %+v", sent)
	}
}

// TestSession_WaitForFirstReply: возвращается первое входящее
// сообщение новее точки отсчёта; свои сообщения пропускаются.
func TestSession_WaitForFirstReply(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())
	mock.SetAuthorized(true)

	sentID, err := s.SendMessage(ctx, "@friend", "как дела?")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// Своё сообщение в ленте не считается ответом.
	mock.FeedMessage("@friend", models.Message{Text: "echo", SenderID: 1, Out: true})
	mock.FeedMessage("@friend", models.Message{Text: "нормально", SenderID: 2, Sender: "friend"})

	reply, err := s.WaitForFirstReply(ctx, "@friend", sentID, 1, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("неожиданная ошибка ожидания: %v", err)
	}
	if reply == nil || reply.Text != "нормально" {
		t.Fatalf("ожидался ответ \"нормально\", получено: %+v", reply)
	}
}

// TestSession_WaitForFirstReplyTimeout: без ответа возвращается nil
// без ошибки.
func TestSession_WaitForFirstReplyTimeout(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestSession(testSessionConfig())
	mock.SetAuthorized(true)

	reply, err := s.WaitForFirstReply(ctx, "@silent", 0, 1, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("таймаут не должен быть ошибкой: %v", err)
	}
	if reply != nil {
		t.Fatalf("ответа быть не должно, получено: %+v", reply)
	}
}

// TestSession_MonitorChannelBaseline: история до старта не
// проигрывается, приходят только новые сообщения, отмена контекста
// останавливает цикл.
func TestSession_MonitorChannelBaseline(t *testing.T) {
	s, mock := newTestSession(testSessionConfig())
	mock.SetAuthorized(true)

	// История, которая не должна попасть в обработчик.
	mock.FeedMessage("@news", models.Message{ID: 10, Text: "старое 1"})
	mock.FeedMessage("@news", models.Message{ID: 11, Text: "старое 2"})

	var mu sync.Mutex
	var got []int
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.MonitorChannel(ctx, "@news", func(m models.Message) {
			mu.Lock()
			got = append(got, m.ID)
			mu.Unlock()
		})
	}()

	// Даём циклу взять базовую точку, затем подкладываем новые сообщения.
	time.Sleep(20 * time.Millisecond)
	mock.FeedMessage("@news", models.Message{ID: 12, Text: "новое 1"})
	mock.FeedMessage("@news", models.Message{ID: 13, Text: "новое 2"})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("новые сообщения не дошли до обработчика: %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("ожидалась остановка по отмене контекста, получено: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("цикл не остановился после отмены контекста")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 12 || got[1] != 13 {
		t.Fatalf("ожидались только новые сообщения [12 13], получено: %v", got)
	}
}

// TestSession_MonitorChannelBaselineRetry: сбой получения базовой
// точки не роняет её в ноль — накопленная история не проигрывается,
// до обработчика доходят только сообщения новее новейшего на момент
// старта.
func TestSession_MonitorChannelBaselineRetry(t *testing.T) {
	s, mock := newTestSession(testSessionConfig())
	mock.SetAuthorized(true)

	// История, существовавшая до старта прослушивания.
	mock.FeedMessage("@news", models.Message{ID: 10, Text: "старое 1"})
	mock.FeedMessage("@news", models.Message{ID: 11, Text: "старое 2"})

	// Первый вызов History — запрос базовой точки — проваливается.
	flaky := &flakyClient{MockClient: mock, failHistory: 1}
	sess := NewSession(s.Account(), flaky, testSessionConfig())

	var mu sync.Mutex
	var got []int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.MonitorChannel(ctx, "@news", func(m models.Message) {
		mu.Lock()
		got = append(got, m.ID)
		mu.Unlock()
	})

	// Даём базовой точке пройти повтор, затем подкладываем новое.
	time.Sleep(30 * time.Millisecond)
	mock.FeedMessage("@news", models.Message{ID: 12, Text: "новое"})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("новое сообщение не дошло до обработчика: %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 12 {
		t.Fatalf("после сбоя базовой точки история проиграна заново: %v", got)
	}
}

// TestSession_MonitorChannelSurvivesErrors: сбой одного цикла опроса
// не останавливает прослушивание.
func TestSession_MonitorChannelSurvivesErrors(t *testing.T) {
	s, mock := newTestSession(testSessionConfig())
	mock.SetAuthorized(true)

	flaky := &flakyClient{MockClient: mock, failHistory: 2}
	sess := NewSession(s.Account(), flaky, testSessionConfig())

	var mu sync.Mutex
	var got []int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.MonitorChannel(ctx, "@news", func(m models.Message) {
		mu.Lock()
		got = append(got, m.ID)
		mu.Unlock()
	})

	time.Sleep(20 * time.Millisecond)
	mock.FeedMessage("@news", models.Message{ID: 42, Text: "после сбоев"})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("сообщение после сбоев не дошло: %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// flakyClient проваливает первые failHistory вызовов History.
type flakyClient struct {
	*MockClient
	mu          sync.Mutex
	failHistory int
}

func (c *flakyClient) History(ctx context.Context, peer PeerRef, minID, limit int) ([]models.Message, error) {
	c.mu.Lock()
	if c.failHistory > 0 {
		c.failHistory--
		c.mu.Unlock()
		return nil, errors.New("временный сбой")
	}
	c.mu.Unlock()
	return c.MockClient.History(ctx, peer, minID, limit)
}
