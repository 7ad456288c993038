package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Database DatabaseConfig
	Supabase SupabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig
	Chat     ChatConfig
	Worker   WorkerConfig
	Log      LogConfig
	GinMode  string
	Port     string
	DemoMode bool
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SupabaseConfig struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	JWTSecret      string
}

type RedisConfig struct {
	URL string
}

type SMTPConfig struct {
	Host     string
	Port     string
	Email    string
	Password string
}

type ChatConfig struct {
	HistoryLimit   int
	ReminderDelay  time.Duration
	AllowedOrigins []string
	PortalURL      string
}

type WorkerConfig struct {
	Concurrency int
	Queues      string
}

type LogConfig struct {
	Level string
	File  string
}

func New() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:      getEnv("DB_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "portal_db"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
		},
		Supabase: SupabaseConfig{
			URL:            getEnv("SUPABASE_URL", ""),
			AnonKey:        getEnv("SUPABASE_ANON_KEY", ""),
			ServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
			JWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnv("SMTP_PORT", "587"),
			Email:    getEnv("SMTP_EMAIL", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
		Chat: ChatConfig{
			HistoryLimit:   getEnvInt("CHAT_HISTORY_LIMIT", 100),
			ReminderDelay:  getEnvDuration("CHAT_REMINDER_DELAY", 15*time.Minute),
			AllowedOrigins: splitList(getEnv("CHAT_ALLOWED_ORIGINS", "http://localhost:3000")),
			PortalURL:      getEnv("PORTAL_URL", "http://localhost:3000"),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 10),
			Queues:      getEnv("WORKER_QUEUES", "default=1"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		GinMode:  getEnv("GIN_MODE", "debug"),
		Port:     getEnv("PORT", "8080"),
		DemoMode: getEnvBool("DEMO_MODE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetDatabaseURL returns DB_URL when set, otherwise a DSN built from the
// individual DB_* settings.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return NormalizeDSN(c.Database.URL)
	}
	return c.buildDatabaseURL()
}

// NormalizeDSN strips SQLAlchemy-style driver suffixes so pgx accepts URLs
// shared with other services.
func NormalizeDSN(dsn string) string {
	for _, prefix := range []string{"postgresql+asyncpg://", "postgresql+pgx://", "postgres+pgx://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "postgres://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (c *Config) buildDatabaseURL() string {
	var sb strings.Builder

	sb.WriteString("postgres://")
	sb.WriteString(c.Database.User)
	if c.Database.Password != "" {
		sb.WriteString(":")
		sb.WriteString(c.Database.Password)
	}
	sb.WriteString("@")
	sb.WriteString(c.Database.Host)
	sb.WriteString(":")
	sb.WriteString(c.Database.Port)
	sb.WriteString("/")
	sb.WriteString(c.Database.DBName)

	if c.Database.SSLMode != "" {
		sb.WriteString("?sslmode=")
		sb.WriteString(c.Database.SSLMode)
	}

	return sb.String()
}

func (c *Config) GetCORSOrigins() []string {
	return splitList(getEnv("CORS_ORIGINS", "http://localhost:3000"))
}

// RemindersEnabled reports whether unread reminders can be queued and sent.
func (c *Config) RemindersEnabled() bool {
	return c.Redis.URL != "" && c.SMTP.Email != ""
}
