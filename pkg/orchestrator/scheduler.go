package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"tg_hub/models"
	"tg_hub/pkg/storage"

	"github.com/robfig/cron/v3"
)

// Executor выполняет send-задачу и возвращает ID отправленного
// сообщения. Оркестратор привязывает его к сессии нужного аккаунта.
type Executor func(ctx context.Context, task models.Task) (int, error)

// Scheduler гоняет send-задачи по крону. Все выражения шестипольные
// (с секундами) — нормализацию делает каталог задач тем же парсером.
type Scheduler struct {
	tasks  *storage.TaskStore
	notify Notifier
	exec   Executor

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// NewScheduler создаёт планировщик; задачи добавляются через Reschedule.
func NewScheduler(tasks *storage.TaskStore, notify Notifier, exec Executor) *Scheduler {
	return &Scheduler{
		tasks:   tasks,
		notify:  notify,
		exec:    exec,
		cron:    cron.New(cron.WithParser(storage.CronParser)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start запускает крон.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop останавливает крон; уже начатые срабатывания довершаются.
func (s *Scheduler) Stop() { s.cron.Stop() }

// Reschedule снимает все активные задания и планирует заново по
// текущему каталогу. Вызывается при старте и при любой смене задач
// или активного аккаунта: задачи без привязки к аккаунту следуют за
// активным, поэтому дешевле пересобрать всё, чем выяснять разницу.
func (s *Scheduler) Reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}

	for _, t := range s.tasks.All() {
		if t.Type != models.TaskTypeSend || !t.Enabled {
			continue
		}
		task := t
		entryID, err := s.cron.AddFunc(task.Cron, func() { s.runTask(task) })
		if err != nil {
			// Каталог валидирует крон при записи, сюда попадать не должны.
			log.Printf("[SCHEDULER] задача %s не запланирована: %v", task.ID, err)
			continue
		}
		s.entries[task.ID] = entryID
		log.Printf("[SCHEDULER] задача %s запланирована: %q -> %s", task.ID, task.Cron, task.To)
	}
}

// Scheduled сообщает, запланирована ли задача (для тестов и диагностики).
func (s *Scheduler) Scheduled(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// runTask — одно срабатывание. Ошибки не валят планировщик: исход
// отправки уходит в уведомление, задача остаётся запланированной,
// если только она не одноразовая.
func (s *Scheduler) runTask(task models.Task) {
	ctx := context.Background()

	msgID, err := s.exec(ctx, task)
	if err != nil {
		log.Printf("[SCHEDULER] задача %s: отправка не удалась: %v", task.ID, err)
		s.notifyResult(ctx, "Отправка по расписанию не удалась",
			fmt.Sprintf("задача %s, получатель %s: %v", task.ID, task.To, err))
	} else {
		log.Printf("[SCHEDULER] задача %s: сообщение %d отправлено %s", task.ID, msgID, task.To)
		s.notifyResult(ctx, "Отправлено по расписанию",
			fmt.Sprintf("задача %s, получатель %s, сообщение %d", task.ID, task.To, msgID))
	}

	// Одноразовая задача выключается независимо от исхода.
	if task.RunOnce {
		if err := s.tasks.Disable(task.ID); err != nil {
			log.Printf("[SCHEDULER] задача %s: не удалось выключить после срабатывания: %v", task.ID, err)
		}
		s.mu.Lock()
		if entryID, ok := s.entries[task.ID]; ok {
			s.cron.Remove(entryID)
			delete(s.entries, task.ID)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) notifyResult(ctx context.Context, title, detail string) {
	if err := s.notify(ctx, title, detail, nil); err != nil {
		log.Printf("[SCHEDULER] уведомление не доставлено: %v", err)
	}
}
