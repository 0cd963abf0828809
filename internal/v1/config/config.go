package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	SupabaseURL    string
	SupabaseAPIKey string
	Port           string

	// JWKS endpoint, derived from SupabaseURL unless overridden
	SupabaseJWKSURL string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	Debug         bool
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	CORSOrigins   string

	// WebSocket tuning (seconds)
	WSHeartbeatInterval  int
	WSConnectionTimeout  int
	WSAuthTimeoutSeconds int

	// Rate limits (ulule/limiter formatted strings)
	RateLimitAPIGlobal string
	RateLimitAPIPublic string
	RateLimitAPIRooms  string
	RateLimitWsIP      string
	RateLimitWsUser    string

	// Tracing
	OTLPEndpoint string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: SUPABASE_URL (https URL of the project)
	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		errors = append(errors, "SUPABASE_URL is required")
	} else if !strings.HasPrefix(cfg.SupabaseURL, "https://") && !strings.HasPrefix(cfg.SupabaseURL, "http://") {
		errors = append(errors, fmt.Sprintf("SUPABASE_URL must be an http(s) URL (got '%s')", cfg.SupabaseURL))
	}

	// Required: SUPABASE_API_KEY
	cfg.SupabaseAPIKey = os.Getenv("SUPABASE_API_KEY")
	if cfg.SupabaseAPIKey == "" {
		errors = append(errors, "SUPABASE_API_KEY is required")
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: SUPABASE_JWKS_URL (derived from SUPABASE_URL by default)
	cfg.SupabaseJWKSURL = os.Getenv("SUPABASE_JWKS_URL")
	if cfg.SupabaseJWKSURL == "" && cfg.SupabaseURL != "" {
		cfg.SupabaseJWKSURL = cfg.SupabaseURL + "/auth/v1/.well-known/jwks.json"
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") != "false"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Debug = os.Getenv("DEBUG") == "true"
	cfg.CORSOrigins = os.Getenv("CORS_ORIGINS")

	// WebSocket tuning, all in seconds
	cfg.WSHeartbeatInterval = getEnvIntOrDefault("WS_HEARTBEAT_INTERVAL", 30, &errors)
	cfg.WSConnectionTimeout = getEnvIntOrDefault("WS_CONNECTION_TIMEOUT", 120, &errors)
	cfg.WSAuthTimeoutSeconds = getEnvIntOrDefault("WS_AUTH_TIMEOUT", 30, &errors)

	// Rate Limits (Defaults: S = Second, M = Minute)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-S")

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"supabase_url", cfg.SupabaseURL,
		"supabase_api_key", redactSecret(cfg.SupabaseAPIKey),
		"jwks_url", cfg.SupabaseJWKSURL,
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"debug", cfg.Debug,
		"ws_heartbeat_interval", cfg.WSHeartbeatInterval,
		"ws_connection_timeout", cfg.WSConnectionTimeout,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the integer value of the environment variable,
// appending to errs if the value is set but not a positive integer
func getEnvIntOrDefault(key string, defaultValue int, errs *[]string) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
