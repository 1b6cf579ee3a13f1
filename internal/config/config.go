package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"ENV"`
	DBDSN       string `mapstructure:"DB_DSN"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	SlotCacheTTL  time.Duration `mapstructure:"SLOT_CACHE_TTL"`

	TelegramToken  string `mapstructure:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `mapstructure:"TELEGRAM_CHAT_ID"`

	PayPalBaseURL      string `mapstructure:"PAYPAL_BASE_URL"`
	PayPalClientID     string `mapstructure:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `mapstructure:"PAYPAL_CLIENT_SECRET"`
	PayPalReturnURL    string `mapstructure:"PAYPAL_RETURN_URL"`
	PayPalCancelURL    string `mapstructure:"PAYPAL_CANCEL_URL"`
	Currency           string `mapstructure:"CURRENCY"`

	SweepInterval  time.Duration `mapstructure:"SWEEP_INTERVAL"`
	MigrateOnStart bool          `mapstructure:"MIGRATE_ON_START"`

	Policy Policy `mapstructure:",squash"`
}

var defaults = map[string]any{
	"ENV":                  "development",
	"DB_DSN":               "",
	"DB_MAX_CONNS":         10,
	"DB_MIN_CONNS":         2,
	"HTTP_ADDR":            ":8080",
	"JWT_SECRET":           "",
	"REDIS_ADDR":           "",
	"REDIS_PASSWORD":       "",
	"SLOT_CACHE_TTL":       "30s",
	"TELEGRAM_TOKEN":       "",
	"TELEGRAM_CHAT_ID":     0,
	"PAYPAL_BASE_URL":      "https://api-m.sandbox.paypal.com",
	"PAYPAL_CLIENT_ID":     "",
	"PAYPAL_CLIENT_SECRET": "",
	"PAYPAL_RETURN_URL":    "",
	"PAYPAL_CANCEL_URL":    "",
	"CURRENCY":             "MXN",
	"SWEEP_INTERVAL":       "5m",
	"MIGRATE_ON_START":     false,

	"SLOT_DURATION":          "30m",
	"MIN_LEAD_TIME":          "48h",
	"MAX_HORIZON_MONTHS":     3,
	"PAYMENT_WINDOW":         "8h",
	"FULL_REFUND_NOTICE":     "48h",
	"PARTIAL_REFUND_NOTICE":  "24h",
	"PARTIAL_REFUND_PERCENT": 50,
	"NO_SHOW_GRACE":          "30m",
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	} else {
		log.Println("Loaded configuration from .env file")
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}
	if cfg.Currency == "" {
		return nil, fmt.Errorf("CURRENCY must not be empty")
	}
	// ticker паникует на неположительном интервале
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	return cfg, nil
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}

// IsProduction включает продовый логгер и строгие проверки
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PayPalEnabled сообщает, можно ли предлагать оплату через внешний процессор
func (c *Config) PayPalEnabled() bool {
	return c.PayPalClientID != "" && c.PayPalClientSecret != ""
}
