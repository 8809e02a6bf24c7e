package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NEON_DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tribe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.APIPort != 8000 {
		t.Errorf("APIPort = %d, want 8000", cfg.APIPort)
	}
	if cfg.LocalTZOffsetMinutes != 60 {
		t.Errorf("LocalTZOffsetMinutes = %d, want 60", cfg.LocalTZOffsetMinutes)
	}
	if !cfg.RateLimitEnabled {
		t.Errorf("rate limiting should default on")
	}
	if cfg.RateLimitWindow != 60*time.Second {
		t.Errorf("RateLimitWindow = %v, want 60s", cfg.RateLimitWindow)
	}
	if cfg.IsProduction() {
		t.Errorf("default environment should not be production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tribe")
	t.Setenv("API_PORT", "9001")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOCAL_TZ_OFFSET_MINUTES", "120")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://tribe.fit, https://staging.tribe.fit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.APIPort != 9001 {
		t.Errorf("APIPort = %d, want 9001", cfg.APIPort)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production environment")
	}
	if cfg.LocalTZOffsetMinutes != 120 {
		t.Errorf("LocalTZOffsetMinutes = %d, want 120", cfg.LocalTZOffsetMinutes)
	}
	want := []string{"https://tribe.fit", "https://staging.tribe.fit"}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[0] != want[0] || cfg.CORSAllowOrigins[1] != want[1] {
		t.Errorf("CORSAllowOrigins = %v, want %v", cfg.CORSAllowOrigins, want)
	}
}
