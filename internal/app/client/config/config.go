package config

import (
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"shopsync/internal/domain/sync"
	"shopsync/internal/utils/logger"
)

const (
	defaultEnv          = logger.EnvLocal
	defaultDataDir      = ".shopsync"
	defaultAdminAddress = "127.0.0.1:8765"
	defaultMonitor      = 30
	defaultHeartbeat    = 30
	defaultMaxAttempts  = 10
)

type Config struct {
	Env          string `mapstructure:"app_env"`
	DataDir      string `mapstructure:"data_dir"`
	DBPath       string `mapstructure:"db_path"`
	// KeyFile ключ устройства для шифрования API-ключа в базе; пустой - ключ хранится открыто
	KeyFile      string `mapstructure:"key_file"`
	LogFile      string `mapstructure:"log_file"`
	AdminAddress string `mapstructure:"admin_address"`
	AdminToken   string `mapstructure:"admin_token"`
	ShopID       string `mapstructure:"shop_id"`

	Sync     sync.Config
	Realtime Realtime
	Monitor  time.Duration

	v *viper.Viper
}

// Realtime параметры realtime-канала
type Realtime struct {
	Enabled     bool
	Heartbeat   time.Duration
	MaxAttempts int
}

// MustLoad загружает конфигурацию клиента или паникует
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

// Load читает .env, переменные окружения и необязательный YAML-файл path
func Load(path string) (*Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", path, err)
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	dataDir := v.GetString("data_dir")
	if dataDir == defaultDataDir {
		dataDir = filepath.Join(homeDir, dataDir)
	}

	dbPath := v.GetString("db_path")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "shopsync.db")
	}

	keyFile := v.GetString("key_file")
	if keyFile == "" && dbPath != ":memory:" {
		keyFile = filepath.Join(filepath.Dir(dbPath), "device.key")
	}

	cfg := &Config{
		Env:          v.GetString("app_env"),
		DataDir:      dataDir,
		DBPath:       dbPath,
		KeyFile:      keyFile,
		LogFile:      v.GetString("log_file"),
		AdminAddress: v.GetString("admin_address"),
		AdminToken:   v.GetString("admin_token"),
		ShopID:       v.GetString("shop_id"),
		Sync:         syncFrom(v),
		Realtime: Realtime{
			Enabled:     v.GetBool("realtime_enabled"),
			Heartbeat:   time.Duration(v.GetInt("realtime_heartbeat_seconds")) * time.Second,
			MaxAttempts: v.GetInt("realtime_max_attempts"),
		},
		Monitor: time.Duration(v.GetInt("monitor_interval_seconds")) * time.Second,
		v:       v,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := sync.DefaultConfig()

	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("admin_address", defaultAdminAddress)
	v.SetDefault("realtime_enabled", true)
	v.SetDefault("realtime_heartbeat_seconds", defaultHeartbeat)
	v.SetDefault("realtime_max_attempts", defaultMaxAttempts)
	v.SetDefault("monitor_interval_seconds", defaultMonitor)

	v.SetDefault("sync_interval_minutes", def.SyncIntervalMinutes)
	v.SetDefault("auto_sync_enabled", def.AutoSyncEnabled)
	v.SetDefault("conflict_resolution_policy", string(def.ConflictPolicy))
	v.SetDefault("batch_size", def.BatchSize)
	v.SetDefault("retry_attempts", def.RetryAttempts)
	v.SetDefault("retry_delay_ms", def.RetryDelayMS)
}

func syncFrom(v *viper.Viper) sync.Config {
	return sync.Config{
		RemoteBaseURL:       v.GetString("remote_base_url"),
		APIKey:              v.GetString("api_key"),
		SyncIntervalMinutes: v.GetInt("sync_interval_minutes"),
		AutoSyncEnabled:     v.GetBool("auto_sync_enabled"),
		ConflictPolicy:      sync.Policy(v.GetString("conflict_resolution_policy")),
		BatchSize:           v.GetInt("batch_size"),
		RetryAttempts:       v.GetInt("retry_attempts"),
		RetryDelayMS:        v.GetInt("retry_delay_ms"),
	}
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path не может быть пустым")
	}
	if c.AdminAddress == "" {
		return fmt.Errorf("admin_address не может быть пустым")
	}
	if c.Realtime.Heartbeat <= 0 {
		return fmt.Errorf("realtime_heartbeat_seconds должен быть положительным")
	}
	if c.Monitor <= 0 {
		return fmt.Errorf("monitor_interval_seconds должен быть положительным")
	}
	return c.Sync.Validate()
}

// Watch следит за файлом конфигурации и передает измененные настройки синхронизации в fn.
// Без файла ничего не делает.
func (c *Config) Watch(fn func(sync.Config)) bool {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return false
	}

	var mu gosync.Mutex
	last := c.Sync

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		next := syncFrom(c.v)
		if err := next.Validate(); err != nil {
			fmt.Printf("Ошибка конфигурации после изменения файла: %v\n", err)
			return
		}

		mu.Lock()
		changed := next != last
		last = next
		mu.Unlock()

		if changed {
			fn(next)
		}
	})
	c.v.WatchConfig()
	return true
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == logger.EnvProd
}

// IsDev проверяет, dev ли окружение
func (c *Config) IsDev() bool {
	return c.Env == logger.EnvDev
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == logger.EnvLocal || c.Env == ""
}
