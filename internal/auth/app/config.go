package app

import (
	"os"
	"strconv"
	"time"

	"github.com/opendenkaru/emr-auth/pkg/jwtx"
)

type Config struct {
	Issuer string // Issuer claim for tokens

	SigningKeyPath string // Path to the PEM-encoded RSA signing key (created on first start)
	MasterKeyPath  string // Path to the field-encryption master key (created on first start)
	RSABits        int    // RSA key size for generated signing keys (default: 2048)

	AccessTokenTTL  time.Duration // Access token lifetime (default: 30m)
	RefreshTokenTTL time.Duration // Refresh token lifetime (default: 168h)
	TokenLeeway     time.Duration // Clock-skew tolerance for verification (default: 0)

	// RotateRefreshTokens issues a new refresh token on every refresh and
	// treats reuse of the old one as theft.
	RotateRefreshTokens bool

	DatabaseFile string // Path to SQLite database file (default: ./emr-auth.db)
	RedisAddr    string // Optional: Redis address for rate limiting; empty uses the in-memory store

	// Initial admin account, created only when the accounts table is empty.
	AdminUsername string
	AdminEmail    string
	AdminPassword string

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	AuditBuffer          int           // Audit dispatcher buffer size (default: 256)
}

func LoadConfig() Config {
	return Config{
		Issuer:         getEnvOrDefault("EMR_AUTH_ISSUER", "emr-auth"),
		SigningKeyPath: getEnvOrDefault("EMR_AUTH_SIGNING_KEY_PATH", "keys/signing.pem"),
		MasterKeyPath:  getEnvOrDefault("EMR_AUTH_MASTER_KEY_PATH", "keys/master.key"),
		RSABits:        getEnvIntOrDefault("EMR_AUTH_RSA_BITS", 0),

		AccessTokenTTL:  getEnvDurationOrDefault("EMR_AUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTokenTTL: getEnvDurationOrDefault("EMR_AUTH_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		TokenLeeway:     getEnvDurationOrDefault("EMR_AUTH_TOKEN_LEEWAY", 0),

		RotateRefreshTokens: getEnvBoolOrDefault("EMR_AUTH_ROTATE_REFRESH", false),

		DatabaseFile: getEnvOrDefault("EMR_AUTH_DATABASE_FILE", "emr-auth.db"),
		RedisAddr:    os.Getenv("EMR_AUTH_REDIS_ADDR"),

		AdminUsername: os.Getenv("EMR_AUTH_ADMIN_USERNAME"),
		AdminEmail:    os.Getenv("EMR_AUTH_ADMIN_EMAIL"),
		AdminPassword: os.Getenv("EMR_AUTH_ADMIN_PASSWORD"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		AuditBuffer:          getEnvIntOrDefault("EMR_AUTH_AUDIT_BUFFER", 256),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
