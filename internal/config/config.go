package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port                string
	DBConn              string
	LogLevel            string
	JWTSecret           string
	EncryptionKey       []byte
	RedisAddr           string
	RedisPassword       string
	CacheTTL            time.Duration
	PlaidURL            string
	PlaidClientID       string
	PlaidSecret         string
	SMTPHost            string
	SMTPPort            string
	SMTPUsername        string
	SMTPPassword        string
	SenderEmail         string
	AlertEmail          string
	RefreshSchedule     string
	PolicyFile          string
	LowBalanceThreshold float64
}

// NewConfig loads configuration from environment variables. Values from a .env
// file in the working directory are used for keys not already set.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBConn:          getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=underwriting sslmode=disable"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:       getEnv("JWT_SECRET", "secret"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		PlaidURL:        getEnv("PLAID_URL", "https://sandbox.plaid.com"),
		PlaidClientID:   getEnv("PLAID_CLIENT_ID", ""),
		PlaidSecret:     getEnv("PLAID_SECRET", ""),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SenderEmail:     getEnv("SENDER_EMAIL", "underwriting@localhost"),
		AlertEmail:      getEnv("UNDERWRITING_ALERT_EMAIL", ""),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "0 3 * * *"),
		PolicyFile:      getEnv("UNDERWRITING_POLICY_FILE", ""),
	}

	ttl, err := time.ParseDuration(getEnv("CACHE_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("CACHE_TTL must not be negative")
	}
	cfg.CacheTTL = ttl

	key, err := hex.DecodeString(getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes hex-encoded")
	}
	cfg.EncryptionKey = key

	threshold, err := strconv.ParseFloat(getEnv("LOW_BALANCE_THRESHOLD", "1000"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOW_BALANCE_THRESHOLD: %w", err)
	}
	cfg.LowBalanceThreshold = threshold

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// SMTPEnabled reports whether alert emails can be sent
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.AlertEmail != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
