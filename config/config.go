package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mailbridge/pkg/apperr"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	AppURL      string

	// Storage
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// Secrets
	JWTSecret          string
	WebhookSecret      string
	CronSecret         string
	TokenEncryptionKey string
	SessionTTL         time.Duration

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Gmail
	GmailTimeout       time.Duration
	GmailRatePerSecond int

	// Sync
	DefaultKeywords      []string
	KeywordCaseSensitive bool
	SyncMaxResults       int
	SyncBatchWorkers     int
	SyncInterval         time.Duration

	// Worker
	WorkerID    string
	WorkerCount int

	// Consumer (Redis Stream)
	ConsumerBatchSize int
	ConsumerBlockMS   int

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AppURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		NATSURL:     getEnv("NATS_URL", ""),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		CronSecret:         getEnv("CRON_SECRET", ""),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		SessionTTL:         getEnvDuration("SESSION_TTL", 7*24*time.Hour),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		GmailTimeout:       getEnvDuration("GMAIL_TIMEOUT", 30*time.Second),
		GmailRatePerSecond: getEnvInt("GMAIL_RATE_PER_SECOND", 10),

		DefaultKeywords:      getEnvSlice("DEFAULT_KEYWORDS", []string{"[TIVING]", "확인", "안내"}),
		KeywordCaseSensitive: getEnvBool("KEYWORD_CASE_SENSITIVE", false),
		SyncMaxResults:       getEnvInt("SYNC_MAX_RESULTS", 50),
		SyncBatchWorkers:     getEnvInt("SYNC_BATCH_WORKERS", 4),
		SyncInterval:         getEnvDuration("SYNC_INTERVAL", 15*time.Minute),

		WorkerID:    getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount: getEnvInt("WORKER_COUNT", 8),

		ConsumerBatchSize: getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:   getEnvInt("CONSUMER_BLOCK_MS", 5000),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"DATABASE_URL":         c.DatabaseURL,
		"GOOGLE_CLIENT_ID":     c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": c.GoogleClientSecret,
		"GOOGLE_REDIRECT_URL":  c.GoogleRedirectURL,
		"WEBHOOK_SECRET":       c.WebhookSecret,
		"JWT_SECRET":           c.JWTSecret,
	}
	for _, key := range []string{"DATABASE_URL", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL", "WEBHOOK_SECRET", "JWT_SECRET"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return apperr.InvalidConfiguration("missing environment: " + strings.Join(missing, ", "))
	}
	if c.SyncBatchWorkers < 1 {
		return apperr.InvalidConfiguration("SYNC_BATCH_WORKERS must be positive")
	}
	if c.SyncMaxResults < 1 {
		return apperr.InvalidConfiguration("SYNC_MAX_RESULTS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
