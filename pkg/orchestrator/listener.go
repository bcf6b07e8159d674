package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tg_hub/models"
	"tg_hub/pkg/storage"
	"tg_hub/pkg/telegram"
)

// ListenerSet ведёт по одному работающему прослушивателю на включённую
// listen-задачу. Отмена кооперативная: цикл замечает её на границе
// следующей итерации, начатый сетевой вызов не прерывается.
type ListenerSet struct {
	tasks  *storage.TaskStore
	notify Notifier

	mu        sync.Mutex
	listeners map[string]*listener
}

type listener struct {
	cancel  context.CancelFunc
	session *telegram.Session
}

// NewListenerSet создаёт пустой набор прослушивателей.
func NewListenerSet(tasks *storage.TaskStore, notify Notifier) *ListenerSet {
	return &ListenerSet{
		tasks:     tasks,
		notify:    notify,
		listeners: make(map[string]*listener),
	}
}

// Start запускает прослушиватель задачи на сессии. Уже работающий
// прослушиватель той же задачи сначала останавливается (замена, а не
// дубль); его текущий цикл может довершиться параллельно с новым —
// окно принимаем, дедупликация сообщений делает его безвредным.
func (s *ListenerSet) Start(task models.Task, sess *telegram.Session) {
	s.Stop(task.ID)

	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{cancel: cancel, session: sess}

	s.mu.Lock()
	s.listeners[task.ID] = l
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			if s.listeners[task.ID] == l {
				delete(s.listeners, task.ID)
			}
			s.mu.Unlock()
		}()
		err := sess.MonitorChannel(ctx, task.Channel, func(m models.Message) {
			s.handleMessage(task, m)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[LISTENER] задача %s: прослушивание завершилось: %v", task.ID, err)
		}
	}()
	log.Printf("[LISTENER] задача %s: прослушивание %s запущено", task.ID, task.Channel)
}

// Stop останавливает прослушиватель задачи, если он работает.
func (s *ListenerSet) Stop(id string) {
	s.mu.Lock()
	l, ok := s.listeners[id]
	if ok {
		delete(s.listeners, id)
	}
	s.mu.Unlock()
	if ok {
		l.cancel()
		log.Printf("[LISTENER] задача %s: остановка запрошена", id)
	}
}

// StopAll останавливает все прослушиватели — нужен при смене
// активного аккаунта и при завершении процесса.
func (s *ListenerSet) StopAll() {
	s.mu.Lock()
	ls := s.listeners
	s.listeners = make(map[string]*listener)
	s.mu.Unlock()
	for id, l := range ls {
		l.cancel()
		log.Printf("[LISTENER] задача %s: остановка запрошена", id)
	}
}

// Running сообщает, работает ли прослушиватель задачи.
func (s *ListenerSet) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listeners[id]
	return ok
}

// handleMessage — обработка одного пойманного сообщения: дедупликация
// по набору задачи, затем уведомление. Сообщение, уже отмеченное
// обработанным, молча пропускается — даже если базовая точка цикла
// после перезапуска отдала его повторно.
func (s *ListenerSet) handleMessage(task models.Task, m models.Message) {
	if !s.tasks.MarkProcessed(task.ID, m.ID) {
		return
	}

	sender := m.Sender
	if sender == "" {
		sender = fmt.Sprintf("id%d", m.SenderID)
	}
	title := fmt.Sprintf("Новое сообщение в %s", task.Channel)
	detail := fmt.Sprintf("%s, %s: %s", sender, m.Date.Format("02.01.2006 15:04:05"), m.Text)
	var photos []models.PhotoMeta
	if m.Photo != nil {
		photos = []models.PhotoMeta{*m.Photo}
	}

	if err := s.notify(context.Background(), title, detail, photos); err != nil {
		log.Printf("[LISTENER] задача %s: уведомление о сообщении %d не доставлено: %v", task.ID, m.ID, err)
		return
	}
	log.Printf("[LISTENER] задача %s: сообщение %d передано в уведомления", task.ID, m.ID)
}
