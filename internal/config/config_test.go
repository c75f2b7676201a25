package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port == "" {
		t.Fatalf("expected default port")
	}
	if cfg.Address() != ":"+cfg.Port {
		t.Fatalf("unexpected address: %s", cfg.Address())
	}
	if cfg.CacheTTLSeconds < 1 {
		t.Fatalf("expected positive cache ttl")
	}
}

func TestLoadCacheTTLOverride(t *testing.T) {
	t.Setenv("CACHE_TTL_SECONDS", "300")
	cfg := Load()
	if cfg.CacheTTLSeconds != 300 {
		t.Fatalf("expected ttl 300, got %d", cfg.CacheTTLSeconds)
	}
}
