package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"shopsync/internal/utils/logger"
)

const envPath = ".env"

type Config struct {
	Env    string
	DB     db
	Server server
	Logger logs
}

type db struct {
	DatabaseURI string
}

type server struct {
	RunAddress      string
	ShutdownTimeout time.Duration
	// RealtimeBuffer размер очереди исходящих сообщений одного подписчика
	RealtimeBuffer int
	// AdminToken токен с полными правами без привязки к магазину; пустой - отключен
	AdminToken string
}

type logs struct {
	File string
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

// Load читает .env (если есть) и переменные окружения
func Load() (*Config, error) {
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("ошибка загрузки .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("app_env", logger.EnvLocal)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("shutdown_timeout_seconds", 10)
	v.SetDefault("realtime_buffer", 64)

	cfg := &Config{
		Env: v.GetString("app_env"),
		DB: db{
			DatabaseURI: v.GetString("database_uri"),
		},
		Server: server{
			RunAddress:      v.GetString("run_address"),
			ShutdownTimeout: time.Duration(v.GetInt("shutdown_timeout_seconds")) * time.Second,
			RealtimeBuffer:  v.GetInt("realtime_buffer"),
			AdminToken:      v.GetString("admin_token"),
		},
		Logger: logs{File: v.GetString("log_file")},
	}

	if cfg.DB.DatabaseURI == "" {
		return nil, fmt.Errorf("не задан DATABASE_URI")
	}
	if cfg.Server.RealtimeBuffer < 1 {
		return nil, fmt.Errorf("REALTIME_BUFFER должен быть не меньше 1")
	}
	return cfg, nil
}
