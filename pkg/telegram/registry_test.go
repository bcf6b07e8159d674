package telegram

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"tg_hub/models"
	"tg_hub/pkg/storage"
)

func newTestRegistry(t *testing.T) (*AccountRegistry, map[string]*MockClient) {
	t.Helper()
	store, err := storage.NewAccountStore(t.TempDir())
	if err != nil {
		t.Fatalf("неожиданная ошибка создания каталога: %v", err)
	}
	if err := store.Load(); err != nil {
		t.Fatalf("неожиданная ошибка загрузки: %v", err)
	}

	var mu sync.Mutex
	mocks := make(map[string]*MockClient)
	factory := func(acc models.Account) Client {
		mu.Lock()
		defer mu.Unlock()
		mock := NewMockClient()
		mock.SetAuthorized(true)
		mocks[acc.Phone] = mock
		return mock
	}
	return NewAccountRegistry(store, factory, testSessionConfig(), 100*time.Millisecond), mocks
}

// TestRegistry_SessionMemoized: повторное обращение возвращает тот же
// экземпляр сессии, фабрика вызывается один раз.
func TestRegistry_SessionMemoized(t *testing.T) {
	r, mocks := newTestRegistry(t)
	acc, _ := r.AddAccount("+15551234567", "Primary", nil)

	first, err := r.Session(acc.ID)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	second, err := r.Session(acc.ID)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if first != second {
		t.Fatalf("сессия не мемоизирована: разные экземпляры")
	}
	if len(mocks) != 1 {
		t.Fatalf("фабрика вызвана %d раз, ожидался 1", len(mocks))
	}
	if r.SessionCount() != 1 {
		t.Fatalf("в реестре %d сессий, ожидалась 1", r.SessionCount())
	}
}

// TestRegistry_SessionActiveDefault: пустой id адресует активный
// аккаунт, и это та же сессия, что и по явному id.
func TestRegistry_SessionActiveDefault(t *testing.T) {
	r, _ := newTestRegistry(t)
	acc, _ := r.AddAccount("+15551234567", "Primary", nil)
	r.AddAccount("+15557654321", "Second", nil)

	byActive, err := r.Session("")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	byID, _ := r.Session(acc.ID)
	if byActive != byID {
		t.Fatalf("сессия активного аккаунта должна совпадать с сессией по id")
	}
}

// TestRegistry_RemoveAccount: сессия забывается, файл сессии удаляется.
func TestRegistry_RemoveAccount(t *testing.T) {
	r, _ := newTestRegistry(t)
	acc, _ := r.AddAccount("+15551234567", "Primary", nil)
	if _, err := r.Session(acc.ID); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// Имитируем сохранённый токен сессии.
	if err := os.WriteFile(acc.SessionFile, []byte("{}"), 0o600); err != nil {
		t.Fatalf("подготовка файла сессии: %v", err)
	}

	if err := r.RemoveAccount(acc.ID); err != nil {
		t.Fatalf("неожиданная ошибка удаления: %v", err)
	}
	if r.SessionCount() != 0 {
		t.Fatalf("сессия не забыта после удаления")
	}
	if _, err := os.Stat(acc.SessionFile); !os.IsNotExist(err) {
		t.Fatalf("файл сессии не удалён")
	}
	if _, err := r.Session(acc.ID); err == nil {
		t.Fatalf("сессия удалённого аккаунта должна быть недоступна")
	}
}

// TestRegistry_HealthFreshNameAfterSwitch: агрегат здоровья отражает
// актуальный флаг активности из каталога, а не копию в сессии.
func TestRegistry_HealthFreshNameAfterSwitch(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	a, _ := r.AddAccount("+15551111111", "A", nil)
	b, _ := r.AddAccount("+15552222222", "B", nil)

	// Создаём сессии до переключения, чтобы их копии устарели.
	r.Session(a.ID)
	r.Session(b.ID)

	if found, err := r.SwitchAccount(b.ID); !found || err != nil {
		t.Fatalf("переключение должно пройти: found=%v, err=%v", found, err)
	}

	ha, err := r.Health(ctx, a.ID)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	hb, _ := r.Health(ctx, b.ID)
	if ha.Active || !hb.Active {
		t.Fatalf("флаги активности устарели: a=%v b=%v", ha.Active, hb.Active)
	}
	if !hb.Connected || !hb.Authorized {
		t.Fatalf("активный аккаунт должен быть подключён и авторизован: %+v", hb)
	}
}

// TestRegistry_AllHealthTimeout: зависшая проверка одного аккаунта
// даёт синтетическую запись timeout, не блокируя агрегат.
func TestRegistry_AllHealthTimeout(t *testing.T) {
	store, err := storage.NewAccountStore(t.TempDir())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := store.Load(); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	factory := func(acc models.Account) Client {
		mock := NewMockClient()
		mock.SetAuthorized(true)
		if acc.Name == "застрявший" {
			return &stuckClient{MockClient: mock}
		}
		return mock
	}
	r := NewAccountRegistry(store, factory, testSessionConfig(), 50*time.Millisecond)

	ok, _ := r.AddAccount("+15551111111", "живой", nil)
	stuck, _ := r.AddAccount("+15552222222", "застрявший", nil)

	start := time.Now()
	results := r.AllHealth(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("агрегат ждал слишком долго: %v", elapsed)
	}
	if len(results) != 2 {
		t.Fatalf("ожидались 2 записи, получено %d", len(results))
	}

	byID := make(map[string]models.AccountHealth)
	for _, h := range results {
		byID[h.AccountID] = h
	}
	if byID[ok.ID].Error != "" {
		t.Fatalf("живой аккаунт не должен иметь ошибки: %+v", byID[ok.ID])
	}
	if byID[stuck.ID].Error != "timeout" {
		t.Fatalf("застрявший аккаунт должен получить запись timeout: %+v", byID[stuck.ID])
	}
}

// stuckClient блокирует проверку авторизации дольше любого таймаута теста.
type stuckClient struct {
	*MockClient
}

func (c *stuckClient) Authorized(ctx context.Context) (bool, error) {
	time.Sleep(2 * time.Second)
	return c.MockClient.Authorized(ctx)
}
