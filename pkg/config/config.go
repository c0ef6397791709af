package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Email        EmailConfig
	Storage      StorageConfig
	Webhook      WebhookConfig
	Notification NotificationConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port         string
	FrontendURL  string
	AllowOrigins string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DSN prefers DATABASE_URL and falls back to the discrete settings.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return "host=" + d.Host + " user=" + d.User + " password=" + d.Password +
		" dbname=" + d.DBName + " port=" + d.Port + " sslmode=disable TimeZone=UTC"
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// Price ids keyed by tier name.
	Prices     map[string]string
	SuccessURL string
	CancelURL  string
}

type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	BaseURL   string
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

type WebhookConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int
	MaxAttempts  int
}

type NotificationConfig struct {
	MaxAttempts   int
	RetrySchedule string
	SendTimeout   time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() *Config {
	godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "3000"),
			FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:5173"),
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "easyplanning"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key"),
			TTL:    getDuration("JWT_TTL", 72*time.Hour),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Prices: compact(map[string]string{
				"premium":  getEnv("STRIPE_PRICE_PREMIUM", ""),
				"pro":      getEnv("STRIPE_PRICE_PRO", ""),
				"business": getEnv("STRIPE_PRICE_BUSINESS", ""),
			}),
			SuccessURL: getEnv("STRIPE_SUCCESS_URL", "http://localhost:5173/billing/success"),
			CancelURL:  getEnv("STRIPE_CANCEL_URL", "http://localhost:5173/billing/cancel"),
		},
		Email: EmailConfig{
			APIKey:    getEnv("RESEND_API_KEY", ""),
			FromEmail: getEnv("EMAIL_FROM", "noreply@easyplanningpro.com"),
			FromName:  getEnv("EMAIL_FROM_NAME", "EasyPlanningPro"),
			BaseURL:   getEnv("RESEND_BASE_URL", "https://api.resend.com"),
		},
		Storage: StorageConfig{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("R2_BUCKET", "easyplanning"),
			PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		},
		Webhook: WebhookConfig{
			Timeout:      getDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxBodyBytes: getInt("WEBHOOK_MAX_BODY_BYTES", 1<<20),
			MaxAttempts:  getInt("WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Notification: NotificationConfig{
			MaxAttempts:   getInt("NOTIFY_MAX_ATTEMPTS", 5),
			RetrySchedule: getEnv("NOTIFICATION_RETRY_SCHEDULE", "@every 5m"),
			SendTimeout:   getDuration("NOTIFICATION_SEND_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getBool("LOG_PRETTY", getEnv("APP_ENV", "") == "development"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return defaultValue
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
