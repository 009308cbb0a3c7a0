package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the dispatch process.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	JWT      JWTConfig
	Sentry   SentryConfig
	Dispatch DispatchConfig
	Earnings EarningsConfig
	Cleanup  CleanupConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds key-value store settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds event bus settings.
type NATSConfig struct {
	URL     string
	Enabled bool
}

// JWTConfig holds socket bearer-token settings.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// SentryConfig holds error tracking settings.
type SentryConfig struct {
	DSN     string
	Enabled bool
}

// DispatchConfig tunes the offer loop.
type DispatchConfig struct {
	RadiusKm           float64
	RadiusStepKm       float64
	RadiusMaxKm        float64
	WaveSize           int
	WaveTimeoutSeconds int
}

// EarningsConfig tunes settlement.
type EarningsConfig struct {
	DefaultCommissionRate float64
	City                  string
}

// CleanupConfig tunes the lifecycle worker. MediaBaseURL points at the
// media service that stores signup documents; empty disables artifact
// removal and expired rows are pruned without it.
type CleanupConfig struct {
	RunOnStartup bool
	MediaBaseURL string
}

// Load reads configuration from environment variables, with .env support.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "camride"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBool("NATS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION", 24),
		},
		Sentry: SentryConfig{
			DSN:     getEnv("SENTRY_DSN", ""),
			Enabled: getEnv("SENTRY_DSN", "") != "",
		},
		Dispatch: DispatchConfig{
			RadiusKm:           getEnvAsFloat("DISPATCH_RADIUS_KM", 5),
			RadiusStepKm:       getEnvAsFloat("DISPATCH_RADIUS_STEP_KM", 3),
			RadiusMaxKm:        getEnvAsFloat("DISPATCH_RADIUS_MAX_KM", 15),
			WaveSize:           getEnvAsInt("DISPATCH_WAVE_SIZE", 5),
			WaveTimeoutSeconds: getEnvAsInt("DISPATCH_WAVE_TIMEOUT_SECONDS", 30),
		},
		Earnings: EarningsConfig{
			DefaultCommissionRate: getEnvAsFloat("DEFAULT_COMMISSION_RATE", 0.15),
			City:                  getEnv("SERVICE_CITY", "Douala"),
		},
		Cleanup: CleanupConfig{
			RunOnStartup: getEnvAsBool("RUN_CLEANUP_ON_STARTUP", false),
			MediaBaseURL: getEnv("CLEANUP_MEDIA_BASE_URL", ""),
		},
	}

	if cfg.Dispatch.WaveSize <= 0 {
		cfg.Dispatch.WaveSize = 5
	}
	if cfg.Dispatch.WaveTimeoutSeconds <= 0 {
		cfg.Dispatch.WaveTimeoutSeconds = 30
	}
	if cfg.Dispatch.RadiusMaxKm < cfg.Dispatch.RadiusKm {
		return nil, fmt.Errorf("DISPATCH_RADIUS_MAX_KM (%v) below DISPATCH_RADIUS_KM (%v)",
			cfg.Dispatch.RadiusMaxKm, cfg.Dispatch.RadiusKm)
	}
	if cfg.Earnings.DefaultCommissionRate < 0 || cfg.Earnings.DefaultCommissionRate >= 1 {
		return nil, fmt.Errorf("DEFAULT_COMMISSION_RATE out of range: %v", cfg.Earnings.DefaultCommissionRate)
	}

	return cfg, nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
