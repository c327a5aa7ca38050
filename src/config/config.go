package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	// Engine cadences and limits.
	SweepInterval        time.Duration
	BudgetEvalInterval   time.Duration
	OwnerRateLimitCount  int
	OwnerRateLimitWindow time.Duration
	DispatchWorkers      int
	DispatchBuffer       int
	NotifySendTimeout    time.Duration

	EmailServiceProvider string

	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	MailgunDomain        string
	MailgunPrivateAPIKey string

	SenderEmail string
	SenderName  string
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	sweepInterval := getEnvAsDuration("SWEEP_INTERVAL", 24*time.Hour)
	budgetEvalInterval := getEnvAsDuration("BUDGET_EVAL_INTERVAL", 6*time.Hour)
	ownerRateLimitWindow := getEnvAsDuration("OWNER_RATE_LIMIT_WINDOW", time.Minute)
	notifySendTimeout := getEnvAsDuration("NOTIFY_SEND_TIMEOUT", 20*time.Second)

	ownerRateLimitCount := getEnvAsInt("OWNER_RATE_LIMIT_COUNT", 10)
	dispatchWorkers := getEnvAsInt("DISPATCH_WORKERS", 4)
	dispatchBuffer := getEnvAsInt("DISPATCH_BUFFER", 256)

	if sweepInterval <= 0 || budgetEvalInterval <= 0 {
		log.Fatalf("FATAL: SWEEP_INTERVAL and BUDGET_EVAL_INTERVAL must be positive durations.")
	}
	if ownerRateLimitCount <= 0 || ownerRateLimitWindow <= 0 {
		log.Fatalf("FATAL: OWNER_RATE_LIMIT_COUNT and OWNER_RATE_LIMIT_WINDOW must be positive.")
	}
	if dispatchWorkers <= 0 {
		log.Fatalf("FATAL: DISPATCH_WORKERS must be positive.")
	}

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./finflow.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		SweepInterval:        sweepInterval,
		BudgetEvalInterval:   budgetEvalInterval,
		OwnerRateLimitCount:  ownerRateLimitCount,
		OwnerRateLimitWindow: ownerRateLimitWindow,
		DispatchWorkers:      dispatchWorkers,
		DispatchBuffer:       dispatchBuffer,
		NotifySendTimeout:    notifySendTimeout,

		EmailServiceProvider: getEnv("EMAIL_SERVICE_PROVIDER", "mock"),

		SMTPServer:   getEnv("SMTP_SERVER", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),

		SenderEmail: getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:  getEnv("SENDER_NAME", "Finflow App"),
	}

	if Cfg.EmailServiceProvider == "mailgun" {
		if Cfg.MailgunDomain == "" {
			log.Fatalf("FATAL: MAILGUN_DOMAIN is required when EMAIL_SERVICE_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.MailgunPrivateAPIKey == "" {
			log.Fatalf("FATAL: MAILGUN_PRIVATE_API_KEY is required when EMAIL_SERVICE_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.SenderEmail == "noreply@example.com" || Cfg.SenderEmail == "" {
			log.Fatalf("FATAL: SENDER_EMAIL must be configured properly (e.g., your Mailgun sender) when EMAIL_SERVICE_PROVIDER is 'mailgun'.")
		}
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, SweepInterval=%s, BudgetEvalInterval=%s, EmailProvider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.SweepInterval, Cfg.BudgetEvalInterval, Cfg.EmailServiceProvider)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
