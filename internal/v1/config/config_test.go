package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	// Save original env vars
	keys := []string{
		"SUPABASE_URL", "SUPABASE_API_KEY", "SUPABASE_JWKS_URL", "PORT",
		"REDIS_ENABLED", "REDIS_ADDR", "GO_ENV", "LOG_LEVEL", "DEBUG",
		"CORS_ORIGINS", "WS_HEARTBEAT_INTERVAL", "WS_CONNECTION_TIMEOUT",
		"WS_AUTH_TIMEOUT",
	}
	origVars := map[string]string{}
	for _, key := range keys {
		origVars[key] = os.Getenv(key)
		os.Unsetenv(key)
	}

	// Return cleanup function
	return func() {
		for key, val := range origVars {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func setRequiredEnv() {
	os.Setenv("SUPABASE_URL", "https://example.supabase.co")
	os.Setenv("SUPABASE_API_KEY", "service-role-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "false")
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.SupabaseURL != "https://example.supabase.co" {
		t.Errorf("Expected SUPABASE_URL to be set correctly, got '%s'", cfg.SupabaseURL)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.SupabaseJWKSURL != "https://example.supabase.co/auth/v1/.well-known/jwks.json" {
		t.Errorf("Expected derived JWKS URL, got '%s'", cfg.SupabaseJWKSURL)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingSupabaseURL(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SUPABASE_API_KEY", "service-role-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "false")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing SUPABASE_URL, got nil")
	}
	if !strings.Contains(err.Error(), "SUPABASE_URL is required") {
		t.Errorf("Expected error message about SUPABASE_URL, got: %v", err)
	}
}

func TestValidateEnv_NonHTTPSupabaseURL(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Setenv("SUPABASE_URL", "example.supabase.co")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for non-URL SUPABASE_URL, got nil")
	}
	if !strings.Contains(err.Error(), "SUPABASE_URL must be an http(s) URL") {
		t.Errorf("Expected error message about SUPABASE_URL scheme, got: %v", err)
	}
}

func TestValidateEnv_MissingAPIKey(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Unsetenv("SUPABASE_API_KEY")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing SUPABASE_API_KEY, got nil")
	}
	if !strings.Contains(err.Error(), "SUPABASE_API_KEY is required") {
		t.Errorf("Expected error message about SUPABASE_API_KEY, got: %v", err)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Unsetenv("PORT")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("Expected error message about PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Setenv("REDIS_ENABLED", "true")
	// Don't set REDIS_ADDR

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_WebSocketDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.WSHeartbeatInterval != 30 {
		t.Errorf("Expected WS_HEARTBEAT_INTERVAL to default to 30, got %d", cfg.WSHeartbeatInterval)
	}
	if cfg.WSConnectionTimeout != 120 {
		t.Errorf("Expected WS_CONNECTION_TIMEOUT to default to 120, got %d", cfg.WSConnectionTimeout)
	}
	if cfg.WSAuthTimeoutSeconds != 30 {
		t.Errorf("Expected WS_AUTH_TIMEOUT to default to 30, got %d", cfg.WSAuthTimeoutSeconds)
	}
}

func TestValidateEnv_InvalidHeartbeatInterval(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Setenv("WS_HEARTBEAT_INTERVAL", "zero")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid WS_HEARTBEAT_INTERVAL, got nil")
	}
	if !strings.Contains(err.Error(), "WS_HEARTBEAT_INTERVAL must be a positive integer") {
		t.Errorf("Expected error message about WS_HEARTBEAT_INTERVAL, got: %v", err)
	}
}

func TestValidateEnv_JWKSOverride(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	setRequiredEnv()
	os.Setenv("SUPABASE_JWKS_URL", "https://keys.example.com/jwks.json")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.SupabaseJWKSURL != "https://keys.example.com/jwks.json" {
		t.Errorf("Expected JWKS override to win, got '%s'", cfg.SupabaseJWKSURL)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
