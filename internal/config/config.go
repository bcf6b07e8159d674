// Package config загружает настройки процесса: переменные окружения
// с префиксом TG_HUB плюс необязательный config.yaml рядом с бинарём.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — все настройки оркестратора.
type Config struct {
	Port    string // порт HTTP-сервера
	DataDir string // каталог с accounts.json, tasks.json и файлами сессий

	APIID    int    // api_id приложения Telegram
	APIHash  string // api_hash приложения Telegram
	MockMode bool   // работать на мок-транспорте без сети

	HealthTimeout   time.Duration // гонка одной проверки здоровья
	PollInterval    time.Duration // пауза между циклами опроса канала
	ConnectAttempts int           // попытки подключения транспорта
	ConnectDelay    time.Duration // базовая задержка между попытками
	LoginStateTTL   time.Duration // срок жизни незавершённого входа, 0 — вечно
}

// Load читает настройки. Отсутствие config.yaml не ошибка: значения
// по умолчанию покрывают локальный запуск.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TG_HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("api_id", 0)
	v.SetDefault("api_hash", "")
	v.SetDefault("mock_mode", false)
	v.SetDefault("health_timeout", "10s")
	v.SetDefault("poll_interval", "5s")
	v.SetDefault("connect_attempts", 3)
	v.SetDefault("connect_delay", "2s")
	v.SetDefault("login_state_ttl", "0")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("чтение config.yaml: %w", err)
		}
	}

	cfg := &Config{
		Port:            v.GetString("port"),
		DataDir:         v.GetString("data_dir"),
		APIID:           v.GetInt("api_id"),
		APIHash:         v.GetString("api_hash"),
		MockMode:        v.GetBool("mock_mode"),
		HealthTimeout:   v.GetDuration("health_timeout"),
		PollInterval:    v.GetDuration("poll_interval"),
		ConnectAttempts: v.GetInt("connect_attempts"),
		ConnectDelay:    v.GetDuration("connect_delay"),
		LoginStateTTL:   v.GetDuration("login_state_ttl"),
	}
	if !cfg.MockMode && (cfg.APIID == 0 || cfg.APIHash == "") {
		return nil, fmt.Errorf("нужны api_id и api_hash (или mock_mode=true)")
	}
	return cfg, nil
}
