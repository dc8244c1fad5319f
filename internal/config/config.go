// Package config provides configuration management for the calendar service.
// It loads configuration from environment variables with sensible defaults and
// validates it so the process refuses to start in an unsafe state.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//   - FRONTEND_URL: Frontend base URL for post-OAuth redirects (default: http://localhost:5173)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./calendar_service.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL connection settings
//
// Redis Configuration (optional, enables distributed refresh locks):
//   - REDIS_ADDRESS: Redis server address; empty disables Redis
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//
// Google OAuth:
//   - GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, GOOGLE_REDIRECT_URI (required)
//
// Security:
//   - TOKEN_ENCRYPTION_KEY: base64-encoded 32-byte AES-256 key (required)
//   - STATE_SECRET: HMAC secret for OAuth state tokens (required, min 32 chars)
//   - STATE_TTL: OAuth state token lifetime (default: 600s)
//   - JWT_SECRET: secret for verifying caller JWTs (required, min 32 chars)
//   - INTERNAL_API_KEY: API key guarding the agent endpoints (required)
//
// Refresh Worker:
//   - PROVIDER_TIMEOUT: timeout for outbound Google calls (default: 30s)
//   - REFRESH_SWEEP_SCHEDULE: cron expression for the proactive refresh sweep
//     (default: */5 * * * *)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the calendar service.
type Config struct {
	// Application settings
	Port        string
	LogLevel    string
	FrontendURL string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration for distributed refresh locks (optional)
	RedisAddress  string
	RedisPassword string
	RedisDB       string

	// Google OAuth configuration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleScopes       []string

	// Security configuration
	TokenEncryptionKey string
	StateSecret        string
	StateTTL           time.Duration
	JWTSecret          string
	InternalAPIKey     string

	// Provider and worker configuration
	ProviderTimeout      time.Duration
	RefreshSweepSchedule string
}

// DefaultGoogleScopes are the scopes requested during authorization,
// following the principle of least privilege.
var DefaultGoogleScopes = []string{
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
}

// Load creates a new Config instance with values loaded from environment
// variables. Call Validate() on the result before use.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./calendar_service.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "calendar_service"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		GoogleScopes:       DefaultGoogleScopes,

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		StateSecret:        getEnv("STATE_SECRET", ""),
		StateTTL:           getDurationEnv("STATE_TTL", 600*time.Second),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		InternalAPIKey:     getEnv("INTERNAL_API_KEY", ""),

		ProviderTimeout:      getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second),
		RefreshSweepSchedule: getEnv("REFRESH_SWEEP_SCHEDULE", "*/5 * * * *"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs comprehensive validation on the configuration: required
// fields, format checks, and cross-field dependencies.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
	}

	if c.GoogleClientID == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID environment variable is required")
	}
	if c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_SECRET environment variable is required")
	}
	if c.GoogleRedirectURI == "" {
		return fmt.Errorf("GOOGLE_REDIRECT_URI environment variable is required")
	}

	if c.TokenEncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY environment variable is required")
	}
	if c.StateSecret == "" {
		return fmt.Errorf("STATE_SECRET environment variable is required")
	}
	if len(c.StateSecret) < 32 {
		return fmt.Errorf("STATE_SECRET must be at least 32 characters long for security")
	}
	if c.StateTTL <= 0 {
		return fmt.Errorf("STATE_TTL must be a positive duration")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}
	if c.InternalAPIKey == "" {
		return fmt.Errorf("INTERNAL_API_KEY environment variable is required")
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be a positive duration")
	}

	return nil
}

// PostgresDSN builds the PostgreSQL connection string from the config
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresDB,
		c.PostgresUser, c.PostgresPassword, c.PostgresSSLMode,
	)
}
