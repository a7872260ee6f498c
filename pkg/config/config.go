package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

const envPrefix = "MEDREMINDER_"

type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
}

type DatabaseConfig struct {
	// Driver is "postgres" (default) or "sqlite".
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
	// Path is the sqlite database file.
	Path string `json:"path"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level     string `json:"level"`
	File      string `json:"file"`
	GormLevel string `json:"gorm_level"`
}

type SchedulerConfig struct {
	TickSeconds      int    `json:"tick_seconds"`
	DueBatch         int    `json:"due_batch"`
	RecoverySpec     string `json:"recovery_cron"`
	RetentionSpec    string `json:"retention_cron"`
	IntakeRetainDays int    `json:"intake_retain_days"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

var AppConfig Config

func LoadConfig(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		logger.Error("failed to open config file", "error", err)
		return err
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		logger.Error("failed to decode config file", "error", err)
		return err
	}

	applyDefaults(&cfg)
	AppConfig = cfg
	return nil
}

// LoadEnv reads an optional .env file and overlays MEDREMINDER_* variables
// on top of AppConfig. A missing .env file is not an error.
func LoadEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to load env file", "error", err)
		return err
	}
	return applyEnv(&AppConfig, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, errors.New("invalid "+envPrefix+key+": "+err.Error()))
			return
		}
		*dst = n
	}

	str("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_HOST", &cfg.Database.Host)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.DBName)
	str("DB_SSLMODE", &cfg.Database.SSLMode)
	str("DB_PATH", &cfg.Database.Path)
	num("DB_PORT", &cfg.Database.Port)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("HTTP_ADDR", &cfg.HTTP.Addr)

	applyDefaults(cfg)
	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Scheduler.TickSeconds <= 0 {
		cfg.Scheduler.TickSeconds = 30
	}
	if cfg.Scheduler.DueBatch <= 0 {
		cfg.Scheduler.DueBatch = 100
	}
	if cfg.Scheduler.RecoverySpec == "" {
		cfg.Scheduler.RecoverySpec = "0 3 * * *"
	}
	if cfg.Scheduler.RetentionSpec == "" {
		cfg.Scheduler.RetentionSpec = "30 3 * * *"
	}
	if cfg.Scheduler.IntakeRetainDays <= 0 {
		cfg.Scheduler.IntakeRetainDays = 90
	}
}
