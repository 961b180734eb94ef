package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "4000" {
		t.Errorf("expected default port 4000, got %q", cfg.Port)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("expected 24h token TTL, got %v", cfg.TokenTTL)
	}
	if cfg.RateLimits.Login.Limit != 5 || cfg.RateLimits.Login.Window != 15*time.Minute {
		t.Errorf("unexpected login policy: %+v", cfg.RateLimits.Login)
	}
	if cfg.RateLimits.API.Limit != 100 || cfg.RateLimits.API.Window != time.Hour {
		t.Errorf("unexpected api policy: %+v", cfg.RateLimits.API)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
	if cfg.JWTSecret == "" {
		t.Error("expected a development JWT secret")
	}
	if cfg.TrustProxy {
		t.Error("expected forwarding headers to be untrusted by default")
	}
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET in production")
	}

	t.Setenv("JWT_SECRET", devJWTSecret)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for development secret in production")
	}

	t.Setenv("JWT_SECRET", "a-real-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("LOGIN_RATE_LIMIT", "3")
	t.Setenv("LOGIN_RATE_WINDOW", "60")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Errorf("expected 2h, got %v", cfg.TokenTTL)
	}
	if cfg.RateLimits.Login.Limit != 3 || cfg.RateLimits.Login.Window != time.Minute {
		t.Errorf("unexpected login policy: %+v", cfg.RateLimits.Login)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("API_RATE_LIMIT", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero API rate limit")
	}
}

func TestLoadTrustProxy(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	for value, want := range map[string]bool{
		"true":  true,
		"1":     true,
		"off":   false,
		"bogus": false,
	} {
		t.Setenv("TRUST_PROXY", value)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.TrustProxy != want {
			t.Errorf("TRUST_PROXY=%q: expected %v, got %v", value, want, cfg.TrustProxy)
		}
	}
}
