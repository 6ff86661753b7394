package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Mail      MailConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Export    ExportConfig
	Scheduler SchedulerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// MailConfig holds Microsoft Graph mailbox settings.
type MailConfig struct {
	GraphBaseURL   string
	AccessToken    string
	DefaultFolder  string
	FetchDays      int
	MaxFetch       int
	TimeoutSeconds int
	UseMockSource  bool
}

// LLMConfig selects and tunes the classification backend.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	TimeoutSec  int
}

// Configured reports whether a usable API key is present.
func (l LLMConfig) Configured() bool {
	return l.APIKey != "" && l.APIKey != "sk-your-api-key-here"
}

// PipelineConfig tunes the email-to-ticket run.
type PipelineConfig struct {
	AutoCreateTickets bool
	MaxMessages       int
	Parallelism       int
}

// ExportConfig controls the post-run ticket export view.
type ExportConfig struct {
	Path string
	Mode string // all, auto, manual
}

// SchedulerConfig controls the background pipeline runner.
type SchedulerConfig struct {
	Enabled         bool
	IntervalMinutes int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	temperature, err := strconv.ParseFloat(getEnv("LLM_TEMPERATURE", "0.3"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_TEMPERATURE: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "sap-ticketing"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Mail: MailConfig{
			GraphBaseURL:   getEnv("MAIL_GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
			AccessToken:    os.Getenv("MAIL_GRAPH_ACCESS_TOKEN"),
			DefaultFolder:  getEnv("MAIL_FOLDER", "inbox"),
			FetchDays:      getEnvAsInt("MAIL_FETCH_DAYS", 1),
			MaxFetch:       getEnvAsInt("MAIL_MAX_FETCH", 100),
			TimeoutSeconds: getEnvAsInt("MAIL_TIMEOUT_SECONDS", 30),
			UseMockSource:  getEnvAsBool("MAIL_USE_MOCK_SOURCE", false),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:      os.Getenv("LLM_API_KEY"),
			BaseURL:     os.Getenv("LLM_BASE_URL"),
			Temperature: temperature,
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 1000),
			TimeoutSec:  getEnvAsInt("LLM_TIMEOUT_SECONDS", 60),
		},
		Pipeline: PipelineConfig{
			AutoCreateTickets: getEnvAsBool("PIPELINE_AUTO_CREATE_TICKETS", true),
			MaxMessages:       getEnvAsInt("PIPELINE_MAX_MESSAGES", 100),
			Parallelism:       getEnvAsInt("PIPELINE_PARALLELISM", 4),
		},
		Export: ExportConfig{
			Path: getEnv("EXPORT_PATH", "data/tickets_export.json"),
			Mode: getEnv("EXPORT_MODE", "all"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnvAsBool("SCHEDULER_ENABLED", false),
			IntervalMinutes: getEnvAsInt("SCHEDULER_INTERVAL_MINUTES", 2),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
