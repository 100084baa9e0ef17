package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected default cache TTL 30s, got %s", cfg.CacheTTL)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected default shutdown timeout 5s, got %s", cfg.ShutdownTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ADMIN_SECRET", "hunter2")
	t.Setenv("CACHE_TTL", "60")
	t.Setenv("REQUEST_TIMEOUT", "not-a-number")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Port)
	}
	if cfg.AdminSecret != "hunter2" {
		t.Errorf("expected admin secret override, got %q", cfg.AdminSecret)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Errorf("expected cache TTL 60s, got %s", cfg.CacheTTL)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected invalid duration to fall back to 30s, got %s", cfg.RequestTimeout)
	}
}
