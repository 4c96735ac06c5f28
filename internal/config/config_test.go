package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
	if cfg.Engine.PassInterval <= 0 || cfg.Engine.CallTimeout <= 0 {
		t.Fatalf("expected engine interval defaults, got %+v", cfg.Engine)
	}
	if len(cfg.Engine.Strategies) != 4 {
		t.Fatalf("expected four default strategies, got %v", cfg.Engine.Strategies)
	}
	if cfg.Providers.OpenSea.BaseURL != "https://api.opensea.io/api/v2" {
		t.Fatalf("unexpected opensea base url %q", cfg.Providers.OpenSea.BaseURL)
	}
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled by default")
	}
	if cfg.Providers.OpenSeaStream.Enabled || cfg.Providers.OpenSeaStream.ReconnectDelay != 5*time.Second {
		t.Fatalf("unexpected stream defaults %+v", cfg.Providers.OpenSeaStream)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Enabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected telegram validation error")
	}
}

func TestValidateOperatorRequiresTelegram(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{OperatorEnabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected operator validation error")
	}
}

func TestTimescaleDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Timescale.WriteTimeout != 3*time.Second {
		t.Fatalf("expected 3s write timeout, got %v", cfg.Timescale.WriteTimeout)
	}
	if cfg.Timescale.QueueSize <= 0 {
		t.Fatalf("expected queue size default, got %d", cfg.Timescale.QueueSize)
	}
}

func TestEnvOverridesTelegram(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "tok")
	t.Setenv("BOT_TELEGRAM_CHAT_ID", "42")
	cfg := Default()
	if cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != "42" {
		t.Fatalf("expected env overrides, got %+v", cfg.Telegram)
	}
}
