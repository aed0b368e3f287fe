package config

import (
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"breakout_bot/internal/calendar"
	"breakout_bot/internal/feed"
	"breakout_bot/internal/models"
	"breakout_bot/internal/orchestrator"
	"breakout_bot/internal/runner"
	"breakout_bot/pkg/logger"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	tokenTradierENV   = "TRADIER_TOKEN"
)

type TradierConfig struct {
	Mode          string        `yaml:"mode" default:"paper" validate:"oneof=paper live"`
	LiveURL       string        `yaml:"live_url" default:"https://api.tradier.com" validate:"url"`
	PaperURL      string        `yaml:"paper_url" default:"https://sandbox.tradier.com" validate:"url"`
	Token         string        `yaml:"token"` // общий токен для котировок и цепочек
	AccountNumber string        `yaml:"account_number"`
	Timeout       time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
	VIXSymbol     string        `yaml:"vix_symbol" default:"VIX" validate:"required"`
}

// BaseURL адрес API для выбранного режима.
func (t TradierConfig) BaseURL() string {
	if t.Mode == "live" {
		return t.LiveURL
	}
	return t.PaperURL
}

type TelegramConfig struct {
	Token         string `yaml:"token"`
	DefaultChatID int64  `yaml:"default_chat_id"`
	QueueSize     int    `yaml:"queue_size" default:"256" validate:"gt=0"`
}

type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host" default:"localhost"`
	Port    int    `yaml:"port" default:"6831" validate:"gt=0"`
}

// Config ...
type Config struct {
	Service struct {
		Name       string        `yaml:"name" default:"breakout_bot" validate:"required"`
		HealthAddr string        `yaml:"health_addr" default:":8080" validate:"required"`
		StatusPush time.Duration `yaml:"status_push" default:"5s" validate:"gt=0"`
	} `yaml:"service"`

	Logger   logger.Config  `yaml:"logger"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Telegram TelegramConfig `yaml:"telegram"`
	Tradier  TradierConfig  `yaml:"tradier"`

	// пустой DSN: состояние дня живёт только в памяти процесса
	DB string `yaml:"db_dsn"`

	AccountsFile string `yaml:"accounts_file" default:"accounts.yaml" validate:"required"`

	Market        calendar.Config       `yaml:"market"`
	Strategy      models.StrategyConfig `yaml:"strategy"`
	Feed          feed.Config           `yaml:"feed"`
	Processor     runner.Config         `yaml:"processor"`
	Orchestration orchestrator.Config   `yaml:"orchestration"`
}

var validate = validator.New()

func NewConfig() (*Config, error) {
	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	return Load(configDir() + "/" + configFileName)
}

// Load читает yaml поверх дефолтов, накладывает env и валидирует.
func Load(path string) (*Config, error) {
	config := Config{}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "set config defaults")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if err := yaml.UnmarshalStrict(raw, &config); err != nil {
		return nil, errors.Wrapf(err, "decode config file %s", path)
	}

	config.applyEnv()

	if err := validate.Struct(config); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		c.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.DB = dsn
	}
	if token := os.Getenv(tokenTradierENV); token != "" {
		c.Tradier.Token = token
	}

	c.Service.HealthAddr = getenvDefault("HEALTH_ADDR", c.Service.HealthAddr)
	c.Logger.Level = getenvDefault("LOG_LEVEL", c.Logger.Level)
	c.Tradier.Mode = getenvDefault("TRADIER_MODE", c.Tradier.Mode)
	c.Tracing.Enabled = boolFromEnv("TRACING_ENABLED", c.Tracing.Enabled)
	c.Feed.Interval = durationFromEnv("FEED_INTERVAL", c.Feed.Interval)
	c.Orchestration.MaxRestartsPerDay = intFromEnv("MAX_RESTARTS_PER_DAY", c.Orchestration.MaxRestartsPerDay)
	c.Orchestration.Global.MaxTotalLoss = floatFromEnv("GLOBAL_MAX_TOTAL_LOSS", c.Orchestration.Global.MaxTotalLoss)
}

// AccountsPath путь к списку аккаунтов. Относительный считается от каталога конфигов.
func (c *Config) AccountsPath() string {
	if len(c.AccountsFile) > 0 && c.AccountsFile[0] == '/' {
		return c.AccountsFile
	}
	return configDir() + "/" + c.AccountsFile
}

func configDir() string {
	return getenvDefault(configDirENV, "configs")
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
