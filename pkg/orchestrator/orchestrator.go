package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"tg_hub/models"
	"tg_hub/pkg/storage"
	"tg_hub/pkg/telegram"
)

// replyWait — сколько ждём первый ответ после ручной отправки,
// прежде чем уведомить без него.
const replyWait = 60 * time.Second

// Orchestrator — корень подсистемы: владеет реестром аккаунтов,
// каталогом задач, планировщиком и прослушивателями, и поддерживает
// инварианты перепланирования при любых изменениях.
type Orchestrator struct {
	registry  *telegram.AccountRegistry
	tasks     *storage.TaskStore
	sched     *Scheduler
	listeners *ListenerSet
	notify    Notifier
}

// New собирает оркестратор. Планировщик получает исполнитель,
// привязанный к сессиям реестра.
func New(registry *telegram.AccountRegistry, tasks *storage.TaskStore, notify Notifier) *Orchestrator {
	o := &Orchestrator{
		registry:  registry,
		tasks:     tasks,
		notify:    notify,
		listeners: NewListenerSet(tasks, notify),
	}
	o.sched = NewScheduler(tasks, notify, o.executeSend)
	return o
}

// Start планирует send-задачи и поднимает прослушиватели включённых
// listen-задач. Вызывается один раз после загрузки каталогов.
func (o *Orchestrator) Start() {
	o.sched.Reschedule()
	o.sched.Start()
	o.startListeners()
	log.Printf("[ORCHESTRATOR] запущен: задач %d", len(o.tasks.All()))
}

// Stop гасит планировщик и прослушиватели.
func (o *Orchestrator) Stop() {
	o.sched.Stop()
	o.listeners.StopAll()
}

// --- Аккаунты ---

// AddAccount регистрирует аккаунт.
func (o *Orchestrator) AddAccount(phone, name string, proxy *models.Proxy) (*models.Account, error) {
	return o.registry.AddAccount(phone, name, proxy)
}

// RemoveAccount удаляет аккаунт. Активный мог смениться, поэтому всё
// перепланируется, как при явном переключении.
func (o *Orchestrator) RemoveAccount(id string) error {
	if err := o.registry.RemoveAccount(id); err != nil {
		return err
	}
	o.resyncTasks()
	return nil
}

// SwitchAccount переключает активный аккаунт и перепланирует ВСЕ
// send-задачи и прослушиватели: задача без явного account_id
// исполняется от имени активного аккаунта, так что переключение
// молча перенаправляет каждую непривязанную задачу. Это документиро-
// ванное поведение, а не побочный эффект. При откате переключения
// из-за ошибки записи перепланирование не выполняется.
func (o *Orchestrator) SwitchAccount(id string) (bool, error) {
	found, err := o.registry.SwitchAccount(id)
	if !found || err != nil {
		return found, err
	}
	o.resyncTasks()
	return true, nil
}

// Accounts возвращает каталог аккаунтов.
func (o *Orchestrator) Accounts() []models.Account { return o.registry.Store().All() }

// Account возвращает один аккаунт.
func (o *Orchestrator) Account(id string) (*models.Account, error) { return o.registry.Store().Get(id) }

// UpdateAccount меняет имя и прокси аккаунта.
func (o *Orchestrator) UpdateAccount(id, name string, proxy *models.Proxy) (*models.Account, error) {
	return o.registry.Store().Update(id, name, proxy)
}

// Health — состояние одного аккаунта (пустой id — активного).
func (o *Orchestrator) Health(ctx context.Context, id string) (models.AccountHealth, error) {
	return o.registry.Health(ctx, id)
}

// AllHealth — состояние всех аккаунтов, см. AccountRegistry.AllHealth.
func (o *Orchestrator) AllHealth(ctx context.Context) []models.AccountHealth {
	return o.registry.AllHealth(ctx)
}

// --- Вход ---

// SendCode начинает вход: запрашивает код для номера через сессию
// аккаунта (пустой accountID — активного).
func (o *Orchestrator) SendCode(ctx context.Context, accountID, phone string) (string, error) {
	sess, err := o.registry.Session(accountID)
	if err != nil {
		return "", err
	}
	return sess.SendCode(ctx, phone)
}

// Verify подтверждает вход кодом и паролем 2FA.
func (o *Orchestrator) Verify(ctx context.Context, accountID, stateID, code, password string) error {
	sess, err := o.registry.Session(accountID)
	if err != nil {
		return err
	}
	return sess.Verify(ctx, stateID, code, password)
}

// Logout отбрасывает незавершённый вход либо разлогинивает аккаунт.
func (o *Orchestrator) Logout(ctx context.Context, accountID, stateID string) error {
	sess, err := o.registry.Session(accountID)
	if err != nil {
		return err
	}
	return sess.Logout(ctx, stateID)
}

// --- Задачи ---

// Tasks возвращает задачи; с accountID — привязанные к нему и
// непривязанные (последние следуют за активным аккаунтом).
func (o *Orchestrator) Tasks(accountID string) []models.Task {
	if accountID == "" {
		return o.tasks.All()
	}
	return o.tasks.ForAccount(accountID)
}

// CreateTask сохраняет задачу и немедленно вводит её в работу.
func (o *Orchestrator) CreateTask(t models.Task) (*models.Task, error) {
	created, err := o.tasks.Create(t)
	if err != nil {
		return nil, err
	}
	switch created.Type {
	case models.TaskTypeSend:
		o.sched.Reschedule()
	case models.TaskTypeListen:
		if created.Enabled {
			o.startListener(*created)
		}
	}
	return created, nil
}

// UpdateTask применяет изменения. Для listen-задачи старый
// прослушиватель останавливается до применения, новый запускается
// только если обновлённая задача включена.
func (o *Orchestrator) UpdateTask(id string, t models.Task) (*models.Task, error) {
	if old, err := o.tasks.Get(id); err == nil && old.Type == models.TaskTypeListen {
		o.listeners.Stop(id)
	}
	updated, err := o.tasks.Update(id, t)
	if err != nil {
		return nil, err
	}
	switch updated.Type {
	case models.TaskTypeSend:
		o.sched.Reschedule()
	case models.TaskTypeListen:
		if updated.Enabled {
			o.startListener(*updated)
		}
	}
	return updated, nil
}

// DeleteTask удаляет задачу; прослушиватель останавливается, набор
// обработанных сообщений уходит вместе с задачей.
func (o *Orchestrator) DeleteTask(id string) error {
	removed, err := o.tasks.Delete(id)
	if err != nil {
		return err
	}
	switch removed.Type {
	case models.TaskTypeSend:
		o.sched.Reschedule()
	case models.TaskTypeListen:
		o.listeners.Stop(id)
	}
	return nil
}

// RunTaskNow выполняет send-задачу немедленно, минуя крон и флаг
// enabled. Единственное требование — сессия выбранного аккаунта
// должна быть авторизована.
func (o *Orchestrator) RunTaskNow(ctx context.Context, taskID, accountID string) (int, error) {
	task, err := o.tasks.Get(taskID)
	if err != nil {
		return 0, err
	}
	if task.Type != models.TaskTypeSend {
		return 0, fmt.Errorf("задача %s не является задачей отправки", taskID)
	}
	if accountID != "" {
		task.AccountID = accountID
	}

	sess, err := o.sessionForTask(*task)
	if err != nil {
		return 0, err
	}
	if err := sess.EnsureConnected(ctx); err != nil {
		return 0, err
	}
	ok, err := sess.Client().Authorized(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("аккаунт %s не авторизован, запуск задачи %s невозможен",
			sess.Account().Phone, taskID)
	}

	msgID, err := sess.SendMessage(ctx, task.To, task.Message)
	if err != nil {
		o.notifyResult(ctx, "Запуск задачи не удался",
			fmt.Sprintf("задача %s, получатель %s: %v", task.ID, task.To, err))
		return 0, err
	}
	o.notifyResult(ctx, "Задача выполнена вручную",
		fmt.Sprintf("задача %s, получатель %s, сообщение %d", task.ID, task.To, msgID))
	return msgID, nil
}

// SendNow отправляет сообщение немедленно. Первый ответ адресата
// ожидается в фоне и прикладывается к уведомлению об отправке.
func (o *Orchestrator) SendNow(ctx context.Context, accountID, to, message string) (int, error) {
	sess, err := o.registry.Session(accountID)
	if err != nil {
		return 0, err
	}
	msgID, err := sess.SendMessage(ctx, to, message)
	if err != nil {
		o.notifyResult(ctx, "Отправка не удалась",
			fmt.Sprintf("получатель %s: %v", to, err))
		return 0, err
	}

	go func() {
		bg := context.Background()
		selfID, err := sess.Client().Self(bg)
		if err != nil {
			log.Printf("[ORCHESTRATOR] не удалось определить собственный ID: %v", err)
		}
		reply, err := sess.WaitForFirstReply(bg, to, msgID, selfID, replyWait)
		detail := fmt.Sprintf("получатель %s, сообщение %d", to, msgID)
		if err != nil {
			log.Printf("[ORCHESTRATOR] ожидание ответа от %s: %v", to, err)
		} else if reply != nil {
			detail += fmt.Sprintf("; первый ответ: %s", reply.Text)
		} else {
			detail += "; ответа не дождались"
		}
		o.notifyResult(bg, "Отправлено вручную", detail)
	}()
	return msgID, nil
}

// --- Внутреннее ---

// executeSend — исполнитель планировщика: сессия аккаунта задачи
// (или активного) отправляет текст получателю.
func (o *Orchestrator) executeSend(ctx context.Context, task models.Task) (int, error) {
	sess, err := o.sessionForTask(task)
	if err != nil {
		return 0, err
	}
	return sess.SendMessage(ctx, task.To, task.Message)
}

// sessionForTask разрешает аккаунт задачи: явная привязка либо
// активный аккаунт на момент выполнения.
func (o *Orchestrator) sessionForTask(task models.Task) (*telegram.Session, error) {
	return o.registry.Session(task.AccountID)
}

// resyncTasks перепланирует отправки и перезапускает прослушиватели —
// общий путь для смены активного аккаунта и удаления аккаунта.
func (o *Orchestrator) resyncTasks() {
	o.sched.Reschedule()
	o.listeners.StopAll()
	o.startListeners()
}

// startListeners запускает прослушиватели всех включённых listen-задач.
func (o *Orchestrator) startListeners() {
	for _, t := range o.tasks.All() {
		if t.Type == models.TaskTypeListen && t.Enabled {
			o.startListener(t)
		}
	}
}

// startListener поднимает прослушиватель одной задачи.
func (o *Orchestrator) startListener(t models.Task) {
	sess, err := o.sessionForTask(t)
	if err != nil {
		log.Printf("[ORCHESTRATOR] задача %s: сессия недоступна: %v", t.ID, err)
		return
	}
	o.listeners.Start(t, sess)
}

// Listeners открывает набор прослушивателей (для тестов и диагностики).
func (o *Orchestrator) Listeners() *ListenerSet { return o.listeners }

// Scheduler открывает планировщик (для тестов и диагностики).
func (o *Orchestrator) Scheduler() *Scheduler { return o.sched }

func (o *Orchestrator) notifyResult(ctx context.Context, title, detail string) {
	if err := o.notify(ctx, title, detail, nil); err != nil {
		log.Printf("[ORCHESTRATOR] уведомление не доставлено: %v", err)
	}
}
