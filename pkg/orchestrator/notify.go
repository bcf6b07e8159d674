// Package orchestrator связывает каталог аккаунтов, каталог задач,
// планировщик отправок и прослушиватели каналов в единую поверхность
// операций.
package orchestrator

import (
	"context"
	"log"

	"tg_hub/models"
)

// Notifier — внешний приёмник уведомлений. Доставка и форматирование
// на стороне приёмника нас не касаются: оркестратор лишь вызывает
// функцию на каждое событие (успех/сбой отправки, пойманное сообщение).
type Notifier func(ctx context.Context, title, detail string, photos []models.PhotoMeta) error

// LogNotifier пишет уведомления в журнал. Подключается, когда внешний
// приёмник не настроен.
func LogNotifier(ctx context.Context, title, detail string, photos []models.PhotoMeta) error {
	if len(photos) > 0 {
		log.Printf("[NOTIFY] %s — %s (фото: %d)", title, detail, len(photos))
		return nil
	}
	log.Printf("[NOTIFY] %s — %s", title, detail)
	return nil
}
