package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tg_hub/models"

	"github.com/google/uuid"
)

// AccountStore хранит каталог аккаунтов в accounts.json.
// Инвариант: не более одного аккаунта с active=true; после любого
// переключения — ровно один, пока аккаунты вообще есть.
type AccountStore struct {
	mu         sync.Mutex
	path       string
	sessionDir string
	accounts   []models.Account
}

// accountCatalog — формат файла каталога.
type accountCatalog struct {
	Accounts []models.Account `json:"accounts"`
}

// NewAccountStore готовит хранилище в каталоге данных. Пути приводятся
// к абсолютным, чтобы файлы сессий не зависели от рабочей директории.
func NewAccountStore(dataDir string) (*AccountStore, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("каталог данных: %w", err)
	}
	s := &AccountStore{
		path:       filepath.Join(abs, "accounts.json"),
		sessionDir: filepath.Join(abs, "sessions"),
	}
	if err := os.MkdirAll(s.sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("каталог сессий: %w", err)
	}
	return s, nil
}

// Load читает каталог с повторами, при устойчивом отсутствии файла
// создаёт пустой каталог.
func (s *AccountStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readFileRetry(s.path)
	if os.IsNotExist(err) {
		log.Printf("[STORE] файл аккаунтов отсутствует, создаём пустой: %s", s.path)
		s.accounts = nil
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("чтение каталога аккаунтов: %w", err)
	}

	var catalog accountCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("разбор каталога аккаунтов: %w", err)
	}
	s.accounts = catalog.Accounts
	log.Printf("[STORE] загружено аккаунтов: %d", len(s.accounts))
	return nil
}

// Create регистрирует аккаунт. Телефон (по цифрам) — ключ уникальности:
// повторная регистрация возвращает ошибку, каталог не меняется.
// Первый аккаунт автоматически становится активным.
func (s *AccountStore) Create(phone, name string, proxy *models.Proxy) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digits := phoneDigits(phone)
	if digits == "" {
		return nil, fmt.Errorf("некорректный номер телефона: %q", phone)
	}
	for _, a := range s.accounts {
		if phoneDigits(a.Phone) == digits {
			return nil, fmt.Errorf("аккаунт с номером %s уже существует", phone)
		}
	}

	acc := models.Account{
		ID:        uuid.NewString(),
		Phone:     phone,
		Name:      name,
		Active:    len(s.accounts) == 0,
		CreatedAt: time.Now(),
		Proxy:     proxy,
	}
	acc.SessionFile = filepath.Join(s.sessionDir, acc.ID+".session.json")

	s.accounts = append(s.accounts, acc)
	if err := s.persistLocked(); err != nil {
		// Откатываем, чтобы каталог в памяти не разошёлся с файлом.
		s.accounts = s.accounts[:len(s.accounts)-1]
		return nil, err
	}
	log.Printf("[STORE] аккаунт создан: %s (%s)", acc.ID, acc.Phone)
	return &acc, nil
}

// Remove удаляет аккаунт и сообщает, был ли он активным. Если удалён
// активный, активным назначается произвольный из оставшихся.
func (s *AccountStore) Remove(id string) (*models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, a := range s.accounts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false, fmt.Errorf("аккаунт %s не найден", id)
	}

	removed := s.accounts[idx]
	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)
	if removed.Active && len(s.accounts) > 0 {
		s.accounts[0].Active = true
		log.Printf("[STORE] активным назначен аккаунт %s", s.accounts[0].ID)
	}
	if err := s.persistLocked(); err != nil {
		return nil, false, err
	}
	return &removed, removed.Active, nil
}

// SwitchActive снимает активность со всех аккаунтов и ставит её на
// указанный. Возвращает false, если аккаунт неизвестен. При ошибке
// записи переключение откатывается: память и файл не расходятся.
func (s *AccountStore) SwitchActive(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			found = true
		}
	}
	if !found {
		return false, nil
	}

	prev := make([]bool, len(s.accounts))
	for i := range s.accounts {
		prev[i] = s.accounts[i].Active
		s.accounts[i].Active = s.accounts[i].ID == id
	}
	if err := s.persistLocked(); err != nil {
		for i := range s.accounts {
			s.accounts[i].Active = prev[i]
		}
		log.Printf("[STORE] ошибка сохранения при переключении аккаунта: %v", err)
		return true, err
	}
	return true, nil
}

// Get возвращает аккаунт по идентификатору.
func (s *AccountStore) Get(id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			acc := a
			return &acc, nil
		}
	}
	return nil, fmt.Errorf("аккаунт %s не найден", id)
}

// GetActive возвращает текущий активный аккаунт.
func (s *AccountStore) GetActive() (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Active {
			acc := a
			return &acc, nil
		}
	}
	return nil, fmt.Errorf("активный аккаунт отсутствует")
}

// All возвращает копию каталога.
func (s *AccountStore) All() []models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// Update меняет имя и прокси аккаунта. Телефон и ID неизменяемы.
func (s *AccountStore) Update(id, name string, proxy *models.Proxy) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			if name != "" {
				s.accounts[i].Name = name
			}
			if proxy != nil {
				s.accounts[i].Proxy = proxy
			}
			if err := s.persistLocked(); err != nil {
				return nil, err
			}
			acc := s.accounts[i]
			return &acc, nil
		}
	}
	return nil, fmt.Errorf("аккаунт %s не найден", id)
}

// persistLocked переписывает файл каталога. Вызывается под мьютексом.
func (s *AccountStore) persistLocked() error {
	data, err := json.MarshalIndent(accountCatalog{Accounts: s.accounts}, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация каталога аккаунтов: %w", err)
	}
	if err := writeFileSync(s.path, data); err != nil {
		log.Printf("[STORE] ошибка записи каталога аккаунтов: %v", err)
		return err
	}
	return nil
}

// phoneDigits оставляет от номера только цифры.
func phoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
