package telegram

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"tg_hub/models"
	"tg_hub/pkg/storage"
)

// AccountRegistry владеет каталогом аккаунтов и по одной сессии на
// аккаунт. Сессии создаются лениво при первом обращении и живут до
// конца процесса; ключ мемоизации — абсолютный путь файла сессии,
// чтобы смена рабочей директории между перезапусками не плодила
// дубликаты.
type AccountRegistry struct {
	store   *storage.AccountStore
	factory ClientFactory
	cfg     SessionConfig

	// healthTimeout ограничивает проверку одного аккаунта в агрегатном
	// опросе здоровья, чтобы один зависший аккаунт не тянул весь ответ.
	healthTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewAccountRegistry собирает реестр поверх каталога и фабрики транспорта.
func NewAccountRegistry(store *storage.AccountStore, factory ClientFactory, cfg SessionConfig, healthTimeout time.Duration) *AccountRegistry {
	return &AccountRegistry{
		store:         store,
		factory:       factory,
		cfg:           cfg,
		healthTimeout: healthTimeout,
		sessions:      make(map[string]*Session),
	}
}

// Store открывает каталог аккаунтов.
func (r *AccountRegistry) Store() *storage.AccountStore { return r.store }

// Session возвращает сессию аккаунта, при пустом id — активного.
// Повторный вызов с тем же аккаунтом возвращает тот же экземпляр.
func (r *AccountRegistry) Session(id string) (*Session, error) {
	var acc *models.Account
	var err error
	if id == "" {
		acc, err = r.store.GetActive()
	} else {
		acc, err = r.store.Get(id)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[acc.SessionFile]; ok {
		return sess, nil
	}
	sess := NewSession(*acc, r.factory(*acc), r.cfg)
	r.sessions[acc.SessionFile] = sess
	log.Printf("[REGISTRY] сессия создана для %s", acc.Phone)
	return sess, nil
}

// AddAccount регистрирует аккаунт в каталоге.
func (r *AccountRegistry) AddAccount(phone, name string, proxy *models.Proxy) (*models.Account, error) {
	return r.store.Create(phone, name, proxy)
}

// RemoveAccount удаляет аккаунт: сессия закрывается и забывается,
// файл сессии удаляется по возможности. Если удалён активный аккаунт,
// каталог сам назначает активным произвольный из оставшихся.
func (r *AccountRegistry) RemoveAccount(id string) error {
	removed, _, err := r.store.Remove(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if sess, ok := r.sessions[removed.SessionFile]; ok {
		if err := sess.Client().Close(); err != nil {
			log.Printf("[REGISTRY] закрытие сессии %s: %v", removed.Phone, err)
		}
		delete(r.sessions, removed.SessionFile)
	}
	r.mu.Unlock()

	if err := os.Remove(removed.SessionFile); err != nil && !os.IsNotExist(err) {
		// Файл не критичен: оставшийся токен лишь занимает место.
		log.Printf("[REGISTRY] файл сессии %s не удалён: %v", removed.SessionFile, err)
	}
	log.Printf("[REGISTRY] аккаунт %s удалён", removed.Phone)
	return nil
}

// SwitchAccount делает аккаунт активным. false — аккаунт неизвестен,
// ошибка — переключение не записалось и было откачено.
func (r *AccountRegistry) SwitchAccount(id string) (bool, error) {
	return r.store.SwitchActive(id)
}

// Health проверяет один аккаунт. Имя и флаг активности берутся из
// каталога: копия внутри сессии могла устареть после переключения.
func (r *AccountRegistry) Health(ctx context.Context, id string) (models.AccountHealth, error) {
	sess, err := r.Session(id)
	if err != nil {
		return models.AccountHealth{}, err
	}
	h := sess.Health(ctx)
	if acc, err := r.store.Get(h.AccountID); err == nil {
		h.Name = acc.Name
		h.Active = acc.Active
	}
	return h, nil
}

// AllHealth опрашивает все аккаунты параллельно. Каждая проверка
// соревнуется с фиксированным таймаутом: проигравший аккаунт получает
// синтетическую запись "timeout" вместо того, чтобы заблокировать
// весь агрегат.
func (r *AccountRegistry) AllHealth(ctx context.Context) []models.AccountHealth {
	accounts := r.store.All()
	results := make([]models.AccountHealth, len(accounts))

	var wg sync.WaitGroup
	for i, acc := range accounts {
		wg.Add(1)
		go func(i int, acc models.Account) {
			defer wg.Done()
			ch := make(chan models.AccountHealth, 1)
			go func() {
				h, err := r.Health(ctx, acc.ID)
				if err != nil {
					h = models.AccountHealth{
						AccountID: acc.ID,
						Phone:     acc.Phone,
						Name:      acc.Name,
						Active:    acc.Active,
						Error:     err.Error(),
						CheckedAt: time.Now(),
					}
				}
				ch <- h
			}()
			select {
			case h := <-ch:
				results[i] = h
			case <-time.After(r.healthTimeout):
				results[i] = models.AccountHealth{
					AccountID: acc.ID,
					Phone:     acc.Phone,
					Name:      acc.Name,
					Active:    acc.Active,
					Error:     "timeout",
					CheckedAt: time.Now(),
				}
			}
		}(i, acc)
	}
	wg.Wait()
	return results
}

// SessionCount — число мемоизированных сессий (для диагностики).
func (r *AccountRegistry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
