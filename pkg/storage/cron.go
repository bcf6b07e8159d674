package storage

import (
	"strings"

	"github.com/robfig/cron/v3"
)

// CronParser разбирает шестипольные выражения с секундами.
// Планировщик использует этот же парсер, чтобы валидация и запуск
// не могли разойтись.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NormalizeCron переводит пятипольное выражение в шестипольное,
// добавляя нулевое поле секунд, и проверяет результат парсером.
func NormalizeCron(expr string) (string, error) {
	fields := strings.Fields(expr)
	normalized := expr
	if len(fields) == 5 {
		normalized = "0 " + strings.Join(fields, " ")
	}
	if _, err := CronParser.Parse(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
