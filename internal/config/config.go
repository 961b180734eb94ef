// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	AppEnv      string
	DBPath      string
	JWTSecret   string
	TokenTTL    time.Duration
	CORSOrigins []string
	LogLevel    string
	TrustProxy  bool // honour X-Forwarded-For / X-Real-IP
	RateLimits  RateLimitConfig
	LangGraph   LangGraphConfig
}

// RateLimit is one fixed-window policy.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds the per-tier request policies.
type RateLimitConfig struct {
	Login RateLimit
	API   RateLimit
	Admin RateLimit
}

// LangGraphConfig points the chat relay at an assistant deployment.
type LangGraphConfig struct {
	APIURL      string
	APIKey      string
	AssistantID string
}

const (
	defaultCORSOrigins = "http://localhost:5173,http://localhost:5174"
	devJWTSecret       = "agentdesk-development-secret"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "4000"),
		AppEnv:      getEnv("APP_ENV", "development"),
		DBPath:      getEnv("DB_PATH", "./data/agentdesk.db"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		TokenTTL:    getEnvDuration("TOKEN_TTL", 24*time.Hour),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", defaultCORSOrigins)),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		TrustProxy:  getEnvBool("TRUST_PROXY", false),
		RateLimits: RateLimitConfig{
			Login: RateLimit{
				Limit:  getEnvInt("LOGIN_RATE_LIMIT", 5),
				Window: getEnvDuration("LOGIN_RATE_WINDOW", 15*time.Minute),
			},
			API: RateLimit{
				Limit:  getEnvInt("API_RATE_LIMIT", 100),
				Window: getEnvDuration("API_RATE_WINDOW", time.Hour),
			},
			Admin: RateLimit{
				Limit:  getEnvInt("ADMIN_RATE_LIMIT", 100),
				Window: getEnvDuration("ADMIN_RATE_WINDOW", 15*time.Minute),
			},
		},
		LangGraph: LangGraphConfig{
			APIURL:      getEnv("LANGGRAPH_API_URL", ""),
			APIKey:      getEnv("LANGGRAPH_API_KEY", ""),
			AssistantID: getEnv("LANGGRAPH_ASSISTANT_ID", "agent"),
		},
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if !c.IsDevelopment() && c.JWTSecret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must not use the development default")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	for name, rl := range map[string]RateLimit{
		"LOGIN": c.RateLimits.Login,
		"API":   c.RateLimits.API,
		"ADMIN": c.RateLimits.Admin,
	} {
		if rl.Limit <= 0 {
			return fmt.Errorf("%s_RATE_LIMIT must be > 0", name)
		}
		if rl.Window <= 0 {
			return fmt.Errorf("%s_RATE_WINDOW must be > 0", name)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "" || c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("15m") or whole seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
