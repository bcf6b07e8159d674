package main

import (
	"log"

	"tg_hub/internal/accounts"
	"tg_hub/internal/auth"
	"tg_hub/internal/config"
	"tg_hub/internal/tasks"
	"tg_hub/models"
	"tg_hub/pkg/orchestrator"
	"tg_hub/pkg/storage"
	"tg_hub/pkg/telegram"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация каталогов: аккаунты и задачи в JSON-файлах
	accountStore, err := storage.NewAccountStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to init account store: %v", err)
	}
	if err := accountStore.Load(); err != nil {
		log.Fatalf("Failed to load accounts: %v", err)
	}

	taskStore, err := storage.NewTaskStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to init task store: %v", err)
	}
	if err := taskStore.Load(); err != nil {
		log.Fatalf("Failed to load tasks: %v", err)
	}

	// Реестр сессий поверх выбранного транспорта
	sessCfg := telegram.SessionConfig{
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectDelay:    cfg.ConnectDelay,
		PollInterval:    cfg.PollInterval,
		LoginStateTTL:   cfg.LoginStateTTL,
	}
	registry := telegram.NewAccountRegistry(accountStore, clientFactory(cfg), sessCfg, cfg.HealthTimeout)

	orch := orchestrator.New(registry, taskStore, orchestrator.LogNotifier)
	orch.Start()
	defer orch.Stop()

	// Настройка роутера
	r := setupRouter(orch)

	// Запуск сервера
	log.Printf("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// clientFactory выбирает транспорт: реальный gotd-клиент либо мок,
// если процесс запущен в режиме mock_mode.
func clientFactory(cfg *config.Config) telegram.ClientFactory {
	if cfg.MockMode {
		log.Printf("[MAIN] мок-режим: реальный протокол отключён")
		return func(acc models.Account) telegram.Client {
			c := telegram.NewMockClient()
			c.SetAuthorized(true)
			return c
		}
	}
	return func(acc models.Account) telegram.Client {
		return telegram.NewGotdClient(cfg.APIID, cfg.APIHash, acc)
	}
}

// Настройка маршрутов
func setupRouter(orch *orchestrator.Orchestrator) *gin.Engine {
	r := gin.Default()

	// Группа роутов для авторизации
	authGroup := r.Group("/auth")
	auth.SetupRoutes(authGroup, orch)

	// Группа роутов для аккаунтов
	accountGroup := r.Group("/accounts")
	accounts.SetupRoutes(accountGroup, orch)

	// Группа роутов для задач автоматизации
	taskGroup := r.Group("/tasks")
	tasks.SetupRoutes(taskGroup, orch)

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Логирование зарегистрированных роутов
	log.Printf("[ROUTER] Routes initialized:")
	log.Printf("[ROUTER] POST /auth/send_code")
	log.Printf("[ROUTER] POST /accounts")
	log.Printf("[ROUTER] POST /tasks")
	log.Printf("[ROUTER] GET /health")

	return r
}
