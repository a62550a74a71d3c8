package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/FACorreiaa/smart-expense-tracker/pkg/money"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Import        ImportConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
	ShutdownTimeout    time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// InMemory runs without Postgres. Sessions are lost on restart.
	InMemory bool
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	LogLevel       string
}

// ImportConfig tunes the CSV import pipeline.
type ImportConfig struct {
	DefaultCurrency     string
	DefaultCategory     string
	SampleRows          int
	MaxDecimalPlaces    int
	MaxUploadBytes      int64
	StaleSessionTTL     time.Duration
	StaleSweepSchedule  string
	CategoryAliases     map[string]string
	RateLimiterIdleTime time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	aliases, err := parseAliases(getEnv("IMPORT_CATEGORY_ALIASES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 100),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 200),
			AllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnvAsInt("POSTGRES_PORT", 5469),
			User:            getEnv("POSTGRES_USER", "postgres"),
			Password:        getEnv("POSTGRES_PASSWORD", "postgres"),
			Database:        getEnv("POSTGRES_DB", "expenses-dev"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:        getEnvAsInt("POSTGRES_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("POSTGRES_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("POSTGRES_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getEnvAsDuration("POSTGRES_MAX_CONN_IDLE_TIME", 30*time.Minute),
			InMemory:        getEnvAsBool("DATABASE_IN_MEMORY", false),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", "smart-expense-tracker"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
		},
		Import: ImportConfig{
			DefaultCurrency:     strings.ToUpper(getEnv("IMPORT_DEFAULT_CURRENCY", "USD")),
			DefaultCategory:     getEnv("IMPORT_DEFAULT_CATEGORY", "Other"),
			SampleRows:          getEnvAsInt("IMPORT_SAMPLE_ROWS", 5),
			MaxDecimalPlaces:    getEnvAsInt("IMPORT_MAX_DECIMAL_PLACES", 0),
			MaxUploadBytes:      int64(getEnvAsInt("IMPORT_MAX_UPLOAD_BYTES", 10<<20)),
			StaleSessionTTL:     getEnvAsDuration("IMPORT_STALE_SESSION_TTL", 24*time.Hour),
			StaleSweepSchedule:  getEnv("IMPORT_STALE_SWEEP_SCHEDULE", "@hourly"),
			CategoryAliases:     aliases,
			RateLimiterIdleTime: getEnvAsDuration("RATE_LIMITER_IDLE_TIME", 10*time.Minute),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if !money.IsKnownCurrency(cfg.Import.DefaultCurrency) {
		return nil, fmt.Errorf("IMPORT_DEFAULT_CURRENCY %q is not a known currency", cfg.Import.DefaultCurrency)
	}
	if cfg.Import.MaxDecimalPlaces < 0 {
		return nil, errors.New("IMPORT_MAX_DECIMAL_PLACES must not be negative")
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseAliases reads "label:Category,label:Category".
func parseAliases(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		label, category, ok := strings.Cut(pair, ":")
		label, category = strings.TrimSpace(label), strings.TrimSpace(category)
		if !ok || label == "" || category == "" {
			return nil, fmt.Errorf("invalid IMPORT_CATEGORY_ALIASES entry %q", pair)
		}
		out[label] = category
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
