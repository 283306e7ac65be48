package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Lockout       LockoutConfig
	PasswordReset PasswordResetConfig
	Borrowing     BorrowingConfig
	Activity      ActivityConfig
	Dashboard     DashboardConfig
	Reports       ReportsConfig
	CORS          CORSConfig
	Log           LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// SessionConfig controls the server-side session guard.
type SessionConfig struct {
	IdleTimeout time.Duration
	MaxLifetime time.Duration
}

// LockoutConfig governs the login-attempt ledger and brute-force lockout.
type LockoutConfig struct {
	Window      time.Duration
	MaxFailures int
	Retention   time.Duration
}

// PasswordResetConfig configures signed reset tokens.
type PasswordResetConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// BorrowingConfig holds circulation defaults; the settings table overrides
// these at runtime.
type BorrowingConfig struct {
	LoanPeriodDays  int
	MaxBooksPerUser int
	FinePerDay      float64
}

// ActivityConfig governs the audit trail retention.
type ActivityConfig struct {
	Retention time.Duration
}

// DashboardConfig governs dashboard cache tuning.
type DashboardConfig struct {
	CacheTTL time.Duration
}

// ReportsConfig configures asynchronous report generation.
type ReportsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	Retention         time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Session = SessionConfig{
		IdleTimeout: parseDuration(v.GetString("SESSION_IDLE_TIMEOUT"), 15*time.Minute),
		MaxLifetime: parseDuration(v.GetString("SESSION_MAX_LIFETIME"), 12*time.Hour),
	}

	cfg.Lockout = LockoutConfig{
		Window:      parseDuration(v.GetString("LOCKOUT_WINDOW"), 30*time.Minute),
		MaxFailures: v.GetInt("LOCKOUT_MAX_FAILURES"),
		Retention:   parseDuration(v.GetString("LOCKOUT_RETENTION"), 30*24*time.Hour),
	}

	cfg.PasswordReset = PasswordResetConfig{
		Secret:   v.GetString("PASSWORD_RESET_SECRET"),
		TokenTTL: parseDuration(v.GetString("PASSWORD_RESET_TTL"), 15*time.Minute),
	}

	cfg.Borrowing = BorrowingConfig{
		LoanPeriodDays:  v.GetInt("LOAN_PERIOD_DAYS"),
		MaxBooksPerUser: v.GetInt("MAX_BOOKS_PER_USER"),
		FinePerDay:      v.GetFloat64("FINE_PER_DAY"),
	}

	cfg.Activity = ActivityConfig{
		Retention: parseDuration(v.GetString("ACTIVITY_RETENTION"), 90*24*time.Hour),
	}

	cfg.Dashboard = DashboardConfig{
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Reports = ReportsConfig{
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
		Retention:         parseDuration(v.GetString("REPORTS_RETENTION"), 180*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "libms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SESSION_IDLE_TIMEOUT", "15m")
	v.SetDefault("SESSION_MAX_LIFETIME", "12h")

	v.SetDefault("LOCKOUT_WINDOW", "30m")
	v.SetDefault("LOCKOUT_MAX_FAILURES", 5)
	v.SetDefault("LOCKOUT_RETENTION", "720h")

	v.SetDefault("PASSWORD_RESET_SECRET", "dev_reset_secret")
	v.SetDefault("PASSWORD_RESET_TTL", "15m")

	v.SetDefault("LOAN_PERIOD_DAYS", 14)
	v.SetDefault("MAX_BOOKS_PER_USER", 5)
	v.SetDefault("FINE_PER_DAY", 0.5)

	v.SetDefault("ACTIVITY_RETENTION", "2160h")

	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
	v.SetDefault("REPORTS_RETENTION", "4320h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
