package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.SheetsMaxRetries != 3 {
		t.Errorf("expected 3 sheet retries, got %d", cfg.SheetsMaxRetries)
	}
	if cfg.DispatchMaxAttempts != 5 {
		t.Errorf("expected 5 dispatch attempts, got %d", cfg.DispatchMaxAttempts)
	}
	if cfg.ReconcileInterval != 30*time.Minute {
		t.Errorf("expected 30m reconcile interval, got %s", cfg.ReconcileInterval)
	}
	if cfg.SheetsRowOffset != 1 {
		t.Errorf("expected row offset 1, got %d", cfg.SheetsRowOffset)
	}
	if cfg.CacheTTL != 15*time.Minute {
		t.Errorf("expected 15m cache TTL, got %s", cfg.CacheTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("expected no CORS origins by default, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.WebhookRateLimit != 20 || cfg.WebhookRateBurst != 40 {
		t.Errorf("unexpected webhook rate defaults: %d/%d", cfg.WebhookRateLimit, cfg.WebhookRateBurst)
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example.jp, https://ops.example.jp,")

	cfg := Load()
	want := []string{"https://admin.example.jp", "https://ops.example.jp"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.CORSAllowedOrigins)
	}
	for i, origin := range want {
		if cfg.CORSAllowedOrigins[i] != origin {
			t.Errorf("origin %d: expected %s, got %s", i, origin, cfg.CORSAllowedOrigins[i])
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("RECONCILE_INTERVAL", "5m")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("SHEETS_ROW_OFFSET", "3")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Port)
	}
	if cfg.ReconcileInterval != 5*time.Minute {
		t.Errorf("expected 5m interval, got %s", cfg.ReconcileInterval)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis TLS enabled")
	}
	if cfg.SheetsRowOffset != 3 {
		t.Errorf("expected row offset 3, got %d", cfg.SheetsRowOffset)
	}
}

func TestDurationFallback(t *testing.T) {
	t.Setenv("CHAT_TIMEOUT", "not-a-duration")
	cfg := Load()
	if cfg.ChatTimeout != 10*time.Second {
		t.Errorf("expected fallback 10s, got %s", cfg.ChatTimeout)
	}
}
