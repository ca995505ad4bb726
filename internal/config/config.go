package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string
	Port     string
	LogLevel string

	// StoreDriver is "postgres" or "memory".
	StoreDriver string
	DatabaseURL string

	// PollDriver is "local" (in-process goroutines) or "queue" (asynq).
	PollDriver string
	RedisAddr  string

	Gateway GatewayConfig
	Poll    PollConfig

	DefaultLoanAmount decimal.Decimal
	MinWithdrawal     decimal.Decimal

	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string

	AlertWebhookURL string
	CallbackSecret  string
}

type GatewayConfig struct {
	BaseURL         string
	APIKey          string
	Email           string
	InitiateTimeout time.Duration
	StatusTimeout   time.Duration
}

type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("POLL_DRIVER", "local")
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "mkopo")
	v.SetDefault("GATEWAY_INITIATE_TIMEOUT", "30s")
	v.SetDefault("GATEWAY_STATUS_TIMEOUT", "10s")
	v.SetDefault("POLL_INTERVAL", "15s")
	v.SetDefault("POLL_MAX_INTERVAL", "2m")
	v.SetDefault("POLL_MAX_ATTEMPTS", 20)
	v.SetDefault("DEFAULT_LOAN_AMOUNT", "5000")
	v.SetDefault("MIN_WITHDRAWAL", "100")
	v.SetDefault("ADMIN_USERNAME", "admin")
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:         v.GetString("APP_ENV"),
		Port:        v.GetString("PORT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL: v.GetString("DATABASE_URL"),
		PollDriver:  strings.ToLower(v.GetString("POLL_DRIVER")),
		RedisAddr:   v.GetString("REDIS_ADDR"),
		Gateway: GatewayConfig{
			BaseURL:         v.GetString("GATEWAY_BASE_URL"),
			APIKey:          v.GetString("GATEWAY_API_KEY"),
			Email:           v.GetString("GATEWAY_EMAIL"),
			InitiateTimeout: v.GetDuration("GATEWAY_INITIATE_TIMEOUT"),
			StatusTimeout:   v.GetDuration("GATEWAY_STATUS_TIMEOUT"),
		},
		Poll: PollConfig{
			Interval:    v.GetDuration("POLL_INTERVAL"),
			MaxInterval: v.GetDuration("POLL_MAX_INTERVAL"),
			MaxAttempts: v.GetInt("POLL_MAX_ATTEMPTS"),
		},
		JWTSecret:         v.GetString("JWT_SECRET"),
		AdminUsername:     v.GetString("ADMIN_USERNAME"),
		AdminPasswordHash: v.GetString("ADMIN_PASSWORD_HASH"),
		AlertWebhookURL:   v.GetString("ALERT_WEBHOOK_URL"),
		CallbackSecret:    v.GetString("CALLBACK_SECRET"),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			v.GetString("DB_USER"),
			v.GetString("DB_PASSWORD"),
			v.GetString("DB_HOST"),
			v.GetString("DB_PORT"),
			v.GetString("DB_NAME"),
		)
	}

	var err error
	if cfg.DefaultLoanAmount, err = decimal.NewFromString(v.GetString("DEFAULT_LOAN_AMOUNT")); err != nil {
		return nil, fmt.Errorf("DEFAULT_LOAN_AMOUNT: %w", err)
	}
	if cfg.MinWithdrawal, err = decimal.NewFromString(v.GetString("MIN_WITHDRAWAL")); err != nil {
		return nil, fmt.Errorf("MIN_WITHDRAWAL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	switch c.PollDriver {
	case "local", "queue":
	default:
		return fmt.Errorf("POLL_DRIVER must be local or queue, got %q", c.PollDriver)
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is not set")
	}
	if c.JWTSecret == "" && c.AdminPasswordHash != "" {
		return fmt.Errorf("JWT_SECRET is required when admin login is enabled")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
