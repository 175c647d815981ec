package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are secrets and deployment knobs that may come from the
// environment instead of the config file. Empty values leave the file alone.
type envOverrides struct {
	TelegramToken string `env:"GAMEBOT_TELEGRAM_TOKEN"`
	StorageDriver string `env:"GAMEBOT_STORAGE_DRIVER"`
	StoragePath   string `env:"GAMEBOT_STORAGE_PATH"`
	RedisAddr     string `env:"GAMEBOT_REDIS_ADDR"`
	RedisPassword string `env:"GAMEBOT_REDIS_PASSWORD"`
	LogLevel      string `env:"GAMEBOT_LOG_LEVEL"`
	DebugToken    string `env:"GAMEBOT_DEBUG_TOKEN"`
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Storage.Driver, o.StorageDriver)
	set(&cfg.Storage.Path, o.StoragePath)
	set(&cfg.Storage.Redis.Addr, o.RedisAddr)
	set(&cfg.Storage.Redis.Password, o.RedisPassword)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Debug.Token, o.DebugToken)
	return nil
}
