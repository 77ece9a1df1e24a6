package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at start-up and passed to every component. Nothing in
// the service mutates it afterwards.
type Config struct {
	GeminiAPIKey    string
	ChatModel       string
	EvaluationModel string
	DatabaseURL     string
	HTTPPort        string
	LogLevel        string
	JWTSecret       string
	EncryptionKey   []byte

	RedisURL            string
	ChatQuota           int
	ChatQuotaAuthed     int
	EvalQuota           int
	EvalQuotaAuthed     int
	RateLimitWindow     time.Duration
	ResendAPIKey        string
	NotificationEmail   string
	NotificationFrom    string
	CronSecret          string
	WeeklySchedule      string
	KnowledgeDir        string
	ChatTimeout         time.Duration
	EvaluationTimeout   time.Duration
	DispatchWorkers     int
	DispatchQueue       int
	DispatchTaskTimeout time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		ChatModel:           getEnv("CHAT_MODEL", "gemini-1.5-flash-latest"),
		EvaluationModel:     getEnv("EVALUATION_MODEL", "gemini-1.5-pro-latest"),
		DatabaseURL:         getEnv("DATABASE_URL", "monetize.db"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		ChatQuota:           getEnvAsInt("RATE_LIMIT_CHAT", 50),
		ChatQuotaAuthed:     getEnvAsInt("RATE_LIMIT_CHAT_AUTHED", 200),
		EvalQuota:           getEnvAsInt("RATE_LIMIT_EVAL", 5),
		EvalQuotaAuthed:     getEnvAsInt("RATE_LIMIT_EVAL_AUTHED", 20),
		RateLimitWindow:     getEnvAsDuration("RATE_LIMIT_WINDOW", 24*time.Hour),
		ResendAPIKey:        getEnv("RESEND_API_KEY", ""),
		NotificationEmail:   getEnv("NOTIFICATION_EMAIL", ""),
		NotificationFrom:    getEnv("NOTIFICATION_FROM", "onboarding@resend.dev"),
		CronSecret:          getEnv("CRON_SECRET", ""),
		WeeklySchedule:      getEnv("WEEKLY_SCHEDULE", ""),
		KnowledgeDir:        getEnv("KNOWLEDGE_DIR", "knowledge"),
		ChatTimeout:         getEnvAsDuration("CHAT_TIMEOUT", 60*time.Second),
		EvaluationTimeout:   getEnvAsDuration("EVALUATION_TIMEOUT", 300*time.Second),
		DispatchWorkers:     getEnvAsInt("DISPATCH_WORKERS", 4),
		DispatchQueue:       getEnvAsInt("DISPATCH_QUEUE", 256),
		DispatchTaskTimeout: getEnvAsDuration("DISPATCH_TASK_TIMEOUT", 30*time.Second),
	}

	key, err := parseKey(getEnv("ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.EncryptionKey = key

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string
	if c.GeminiAPIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}
	if len(c.EncryptionKey) != 32 {
		errs = append(errs, "ENCRYPTION_KEY must be 64 hex characters")
	}
	if c.ChatQuota <= 0 || c.ChatQuotaAuthed <= 0 || c.EvalQuota <= 0 || c.EvalQuotaAuthed <= 0 {
		errs = append(errs, "rate limit quotas must be positive")
	}
	if c.ChatQuota >= c.ChatQuotaAuthed || c.EvalQuota >= c.EvalQuotaAuthed {
		errs = append(errs, "anonymous quotas must be smaller than authenticated quotas")
	}
	if c.DispatchWorkers <= 0 {
		errs = append(errs, "DISPATCH_WORKERS must be positive")
	}
	if c.DispatchQueue < 0 {
		errs = append(errs, "DISPATCH_QUEUE must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Debug reports whether verbose logging was requested.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "DEBUG")
}

// EmailConfigured reports whether outbound email can be delivered.
func (c *Config) EmailConfigured() bool {
	return c.ResendAPIKey != "" && c.NotificationEmail != ""
}

func parseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: ENCRYPTION_KEY is not hex: %w", err)
	}
	return key, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}
