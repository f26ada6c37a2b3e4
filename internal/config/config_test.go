package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTPAddress != "0.0.0.0:8000" {
		t.Fatalf("unexpected default address: %q", cfg.HTTPAddress)
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Fatalf("unexpected default timeout: %v", cfg.UpstreamTimeout)
	}
	if cfg.UserCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected default cache TTL: %v", cfg.UserCacheTTL)
	}
	if cfg.PageDelay != 20*time.Millisecond {
		t.Fatalf("unexpected default page delay: %v", cfg.PageDelay)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected default origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	configViper := NewViper()
	configViper.Set("bitrix.timeout", "0s")
	if _, err := Load(configViper); err == nil {
		t.Fatal("expected error for zero timeout")
	}

	configViper = NewViper()
	configViper.Set("http.address", "  ")
	if _, err := Load(configViper); err == nil {
		t.Fatal("expected error for blank address")
	}

	configViper = NewViper()
	configViper.Set("cache.user_ttl", "0s")
	if _, err := Load(configViper); err == nil {
		t.Fatal("expected error for zero cache TTL")
	}
}
