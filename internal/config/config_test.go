package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadAppliesPlanDefaultsAndOverrides(t *testing.T) {
	t.Setenv("FREE_MONTHLY_SALE_LIMIT", "250")
	t.Setenv("USAGE_CACHE_TTL_SECONDS", "0")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.FreeProductLimit != 50 {
		t.Fatalf("expected default product limit 50, got %d", cfg.FreeProductLimit)
	}
	if cfg.FreeMonthlySaleLimit != 250 {
		t.Fatalf("expected sale limit override 250, got %d", cfg.FreeMonthlySaleLimit)
	}
	if cfg.UsageCacheTTL() != time.Minute {
		t.Fatalf("expected usage cache ttl to fall back to 60s, got %s", cfg.UsageCacheTTL())
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")
	if _, err := Load(); err == nil {
		t.Fatalf("expected malformed REDIS_DB to fail")
	}
}
