package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Paystack PaystackConfig
	Admin    AdminConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Name        string
	Env         string
	Port        string
	Debug       bool
	LogPath     string
	FrontendURL string
}

// IsDevelopment reports whether error details may be shown to clients.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development"
}

type DatabaseConfig struct {
	URL         string
	Host        string
	Port        string
	Name        string
	User        string
	Password    string
	SSLMode     string
	MaxConns    int32
	AutoMigrate bool
}

type PaystackConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	CallbackURL   string
	Timeout       time.Duration
}

type AdminConfig struct {
	APIToken string
}

type RedisConfig struct {
	URL string
}

type MetricsConfig struct {
	PushURL      string
	PushInterval time.Duration
}

// LoadConfig reads .env when present and lets environment variables override it.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(".env")
}

func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	// Set defaults
	v.SetDefault("APP_NAME", "CarConnect Ghana API")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("PORT", "3001")
	v.SetDefault("DEBUG", false)
	v.SetDefault("LOG_PATH", "logs/")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("PAYSTACK_TIMEOUT_SECONDS", 10)
	v.SetDefault("METRICS_PUSH_INTERVAL_MS", 10000)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	config := &Config{
		App: AppConfig{
			Name:        v.GetString("APP_NAME"),
			Env:         v.GetString("APP_ENV"),
			Port:        v.GetString("PORT"),
			Debug:       v.GetBool("DEBUG"),
			LogPath:     v.GetString("LOG_PATH"),
			FrontendURL: v.GetString("FRONTEND_URL"),
		},
		Database: DatabaseConfig{
			URL:         v.GetString("DATABASE_URL"),
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetString("DB_PORT"),
			Name:        v.GetString("DB_NAME"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASS"),
			SSLMode:     v.GetString("DB_SSLMODE"),
			MaxConns:    v.GetInt32("DB_MAX_CONNS"),
			AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
		},
		Paystack: PaystackConfig{
			SecretKey:     v.GetString("PAYSTACK_SECRET_KEY"),
			WebhookSecret: v.GetString("PAYSTACK_WEBHOOK_SECRET"),
			BaseURL:       v.GetString("PAYSTACK_BASE_URL"),
			CallbackURL:   v.GetString("PAYSTACK_CALLBACK_URL"),
			Timeout:       time.Duration(v.GetInt("PAYSTACK_TIMEOUT_SECONDS")) * time.Second,
		},
		Admin: AdminConfig{
			APIToken: v.GetString("ADMIN_API_TOKEN"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Metrics: MetricsConfig{
			PushURL:      v.GetString("METRICS_PUSH_URL"),
			PushInterval: time.Duration(v.GetInt("METRICS_PUSH_INTERVAL_MS")) * time.Millisecond,
		},
	}

	// Paystack signs webhooks with the account secret key unless told otherwise.
	if config.Paystack.WebhookSecret == "" {
		config.Paystack.WebhookSecret = config.Paystack.SecretKey
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Paystack.SecretKey == "" {
		return errors.New("PAYSTACK_SECRET_KEY is required")
	}
	if c.Paystack.Timeout <= 0 {
		return fmt.Errorf("PAYSTACK_TIMEOUT_SECONDS must be positive, got %s", c.Paystack.Timeout)
	}
	if c.Database.URL == "" && c.Database.Host == "" {
		return errors.New("DATABASE_URL or DB_HOST is required")
	}
	return nil
}
