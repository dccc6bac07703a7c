// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime setting of the service.
type Config struct {
	ServiceName string
	HTTPAddr    string
	Debug       bool

	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	BaseURL     string
	BaseDomain  string
	CallbackURL string
	Issuer      string

	ProviderName         string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderAuthorizeURL string
	ProviderTokenURL     string
	ProviderUserinfoURL  string
	ProviderScopes       []string

	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RefreshTokenBytes int
	AuthCodeTTL       time.Duration
	CsrfStateTTL      time.Duration
	PendingTTL        time.Duration

	PinIndexSecret string

	RateLimitRPM   int
	AllowedOrigins []string

	OTLPEndpoint string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// Load reads configuration from the environment, with a best-effort .env
// file for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "darkvelocity-auth"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		Debug:       getBool("DEBUG", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getInt("REDIS_DB", 0),

		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		BaseDomain:  getEnv("BASE_DOMAIN", ""),
		CallbackURL: getEnv("CALLBACK_URL", "http://localhost:8080/oauth/callback"),
		Issuer:      getEnv("ISSUER", "darkvelocity-auth"),

		ProviderName:         getEnv("PROVIDER_NAME", "upstream"),
		ProviderClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		ProviderAuthorizeURL: getEnv("PROVIDER_AUTHORIZE_URL", ""),
		ProviderTokenURL:     getEnv("PROVIDER_TOKEN_URL", ""),
		ProviderUserinfoURL:  getEnv("PROVIDER_USERINFO_URL", ""),
		ProviderScopes:       getList("PROVIDER_SCOPES", []string{"openid", "email", "profile"}),

		AccessTokenTTL:    getDuration("ACCESS_TOKEN_TTL", 10*time.Minute),
		RefreshTokenTTL:   getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		RefreshTokenBytes: getInt("REFRESH_TOKEN_BYTES", 32),
		AuthCodeTTL:       getDuration("AUTH_CODE_TTL", 5*time.Minute),
		CsrfStateTTL:      getDuration("CSRF_STATE_TTL", 5*time.Minute),
		PendingTTL:        getDuration("PENDING_TTL", 10*time.Minute),

		PinIndexSecret: getEnv("PIN_INDEX_SECRET", ""),

		RateLimitRPM:   getInt("RATE_LIMIT_RPM", 60),
		AllowedOrigins: getList("ALLOWED_ORIGINS", nil),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		BootstrapAdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PinIndexSecret == "" {
		return nil, fmt.Errorf("PIN_INDEX_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
