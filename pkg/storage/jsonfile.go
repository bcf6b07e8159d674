// Package storage отвечает за персистентные каталоги оркестратора.
// Аккаунты и задачи хранятся в JSON-файлах и переписываются целиком
// при каждой мутации.
package storage

import (
	"log"
	"os"
	"time"
)

// Параметры повторного чтения каталога при старте. Диск или точка
// монтирования могут быть ещё не готовы, поэтому не сдаёмся сразу.
const (
	loadAttempts  = 5
	loadBaseDelay = 200 * time.Millisecond
)

// readFileRetry читает файл с нарастающей задержкой между попытками.
// Отсутствие файла после всех попыток возвращается как os.ErrNotExist,
// чтобы вызывающий мог инициализировать пустой каталог.
func readFileRetry(path string) ([]byte, error) {
	var data []byte
	var err error
	for attempt := 1; attempt <= loadAttempts; attempt++ {
		data, err = os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if attempt < loadAttempts {
			delay := time.Duration(attempt) * loadBaseDelay
			log.Printf("[STORE] чтение %s не удалось (попытка %d): %v, ждём %s", path, attempt, err, delay)
			time.Sleep(delay)
		}
	}
	return nil, err
}

// writeFileSync переписывает файл каталога целиком.
func writeFileSync(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
