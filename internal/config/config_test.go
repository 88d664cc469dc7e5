package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("MATCHBASE_ENV", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsLocal() {
		t.Fatalf("expected local env, got %q", cfg.Env)
	}
	if cfg.Cookie.AccessName != "mb_access_token" || cfg.Cookie.RefreshName != "mb_refresh_token" {
		t.Fatalf("unexpected cookie names: %+v", cfg.Cookie)
	}
	if cfg.Identity.ExchangeTimeout != 10*time.Second {
		t.Fatalf("unexpected exchange timeout: %v", cfg.Identity.ExchangeTimeout)
	}
	if cfg.I18n.Fallback != "en" {
		t.Fatalf("unexpected fallback: %q", cfg.I18n.Fallback)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"env: staging",
		"cookie:",
		"  hash_key: 0123456789abcdef0123456789abcdef",
		"  domain: matchbase.example",
		"identity:",
		"  certs_url: https://idp.example/certs",
		"  token_url: https://idp.example/token",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MATCHBASE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != EnvStaging {
		t.Fatalf("expected staging, got %q", cfg.Env)
	}
	if cfg.Cookie.Domain != "matchbase.example" {
		t.Fatalf("unexpected domain %q", cfg.Cookie.Domain)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("env override not applied: %q", cfg.Log.Level)
	}
}

func TestValidateRejectsEmulatorOutsideLocal(t *testing.T) {
	cfg := Config{
		Env: EnvProduction,
		Identity: IdentityConfig{
			Emulator: true,
			CertsURL: "https://idp.example/certs",
			TokenURL: "https://idp.example/token",
		},
		Cookie: CookieConfig{
			AccessName:  "a",
			RefreshName: "r",
			HashKey:     "0123456789abcdef0123456789abcdef",
		},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "emulator") {
		t.Fatalf("expected emulator rejection, got %v", err)
	}

	cfg.Env = EnvLocal
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected local emulator to be allowed, got %v", err)
	}
}

func TestValidateRequiresHashKeyOutsideLocal(t *testing.T) {
	cfg := Config{
		Env:      EnvDevelopment,
		Identity: IdentityConfig{HMACSecret: "s", TokenURL: "https://idp.example/token"},
		Cookie:   CookieConfig{AccessName: "a", RefreshName: "r", HashKey: "short"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected short hash key to be rejected")
	}
}
