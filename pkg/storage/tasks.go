package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"tg_hub/models"

	"github.com/google/uuid"
)

// TaskStore хранит каталог задач в tasks.json и ведёт для каждой
// listen-задачи набор уже обработанных сообщений. Набор живёт только
// в памяти и теряется при перезапуске.
type TaskStore struct {
	mu        sync.Mutex
	path      string
	tasks     []models.Task
	processed map[string]map[int]struct{}
}

// taskCatalog — формат файла каталога.
type taskCatalog struct {
	Tasks []models.Task `json:"tasks"`
}

// NewTaskStore готовит хранилище задач в каталоге данных.
func NewTaskStore(dataDir string) (*TaskStore, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("каталог данных: %w", err)
	}
	return &TaskStore{
		path:      filepath.Join(abs, "tasks.json"),
		processed: make(map[string]map[int]struct{}),
	}, nil
}

// Load читает каталог с повторами, при устойчивом отсутствии файла
// создаёт пустой каталог.
func (s *TaskStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readFileRetry(s.path)
	if os.IsNotExist(err) {
		log.Printf("[STORE] файл задач отсутствует, создаём пустой: %s", s.path)
		s.tasks = nil
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("чтение каталога задач: %w", err)
	}

	var catalog taskCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("разбор каталога задач: %w", err)
	}
	s.tasks = catalog.Tasks
	log.Printf("[STORE] загружено задач: %d", len(s.tasks))
	return nil
}

// Create валидирует и сохраняет задачу. ID генерируется, крон
// нормализуется к шести полям.
func (s *TaskStore) Create(t models.Task) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = uuid.NewString()
	if err := s.validate(&t); err != nil {
		return nil, err
	}
	s.tasks = append(s.tasks, t)
	if err := s.persistLocked(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		return nil, err
	}
	log.Printf("[STORE] задача создана: %s (%s)", t.ID, t.Type)
	return &t, nil
}

// Update заменяет задачу с сохранением её идентификатора.
func (s *TaskStore) Update(id string, t models.Task) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID == id {
			t.ID = id
			if err := s.validate(&t); err != nil {
				return nil, err
			}
			prev := s.tasks[i]
			s.tasks[i] = t
			if err := s.persistLocked(); err != nil {
				s.tasks[i] = prev
				return nil, err
			}
			return &t, nil
		}
	}
	return nil, fmt.Errorf("задача %s не найдена", id)
}

// Delete удаляет задачу и её набор обработанных сообщений.
func (s *TaskStore) Delete(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID == id {
			removed := s.tasks[i]
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			delete(s.processed, id)
			if err := s.persistLocked(); err != nil {
				return nil, err
			}
			return &removed, nil
		}
	}
	return nil, fmt.Errorf("задача %s не найдена", id)
}

// Get возвращает задачу по идентификатору.
func (s *TaskStore) Get(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			task := t
			return &task, nil
		}
	}
	return nil, fmt.Errorf("задача %s не найдена", id)
}

// All возвращает копию каталога задач.
func (s *TaskStore) All() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// ForAccount возвращает задачи, привязанные к аккаунту, включая
// непривязанные (они следуют за активным аккаунтом).
func (s *TaskStore) ForAccount(accountID string) []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, t := range s.tasks {
		if t.AccountID == "" || t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// Disable выключает задачу и сохраняет каталог. Используется для
// run_once-задач после первого срабатывания.
func (s *TaskStore) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].Enabled = false
			return s.persistLocked()
		}
	}
	return fmt.Errorf("задача %s не найдена", id)
}

// MarkProcessed отмечает сообщение обработанным для задачи.
// Возвращает false, если сообщение уже встречалось.
func (s *TaskStore) MarkProcessed(taskID string, msgID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.processed[taskID]
	if !ok {
		set = make(map[int]struct{})
		s.processed[taskID] = set
	}
	if _, seen := set[msgID]; seen {
		return false
	}
	set[msgID] = struct{}{}
	return true
}

// validate проверяет поля задачи по её типу и нормализует крон.
func (s *TaskStore) validate(t *models.Task) error {
	switch t.Type {
	case models.TaskTypeSend:
		if t.To == "" || t.Message == "" {
			return fmt.Errorf("задача %s: для отправки нужны получатель и текст", t.ID)
		}
		normalized, err := NormalizeCron(t.Cron)
		if err != nil {
			return fmt.Errorf("задача %s: некорректное cron-выражение %q: %w", t.ID, t.Cron, err)
		}
		t.Cron = normalized
	case models.TaskTypeListen:
		if t.Channel == "" {
			return fmt.Errorf("задача %s: для прослушивания нужен канал", t.ID)
		}
	default:
		return fmt.Errorf("задача %s: неизвестный тип %q", t.ID, t.Type)
	}
	return nil
}

// persistLocked переписывает файл каталога. Вызывается под мьютексом.
func (s *TaskStore) persistLocked() error {
	data, err := json.MarshalIndent(taskCatalog{Tasks: s.tasks}, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация каталога задач: %w", err)
	}
	if err := writeFileSync(s.path, data); err != nil {
		log.Printf("[STORE] ошибка записи каталога задач: %v", err)
		return err
	}
	return nil
}
