package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := getDefaultConfig()
	return cfg
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_WindowShorterThanInterval(t *testing.T) {
	cfg := validConfig()
	cfg.App.TickInterval = time.Minute
	cfg.App.SalesWindow = 30 * time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "sales_window") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_BadRatios(t *testing.T) {
	cfg := validConfig()
	cfg.App.PriceFloorRatio = 1.2
	if err := cfg.Validate(); err == nil {
		t.Fatal("floor ratio >= 1 should fail")
	}

	cfg = validConfig()
	cfg.App.PriceCapRatio = 0.9
	if err := cfg.Validate(); err == nil {
		t.Fatal("cap ratio <= 1 should fail")
	}
}

func TestValidate_BadRoundStep(t *testing.T) {
	cfg := validConfig()
	cfg.App.PriceRoundStep = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero round step should fail")
	}
}

func TestValidate_BadPromoPause(t *testing.T) {
	cfg := validConfig()
	cfg.Promo.Pause = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero promo pause should fail")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.TickInterval != 30*time.Second {
		t.Fatalf("expected default tick interval, got %s", cfg.App.TickInterval)
	}
	if cfg.App.PriceCapRatio != 1.30 {
		t.Fatalf("expected default cap ratio 1.30, got %g", cfg.App.PriceCapRatio)
	}
}

func TestLoad_FileOverridesAndDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "app": {
    "http_addr": ":9090",
    "tick_interval": "1m",
    "sales_window": "5m",
    "price_cap_ratio": 1.40
  },
  "promo": {
    "initial_delay": "10m",
    "pause": "3m"
  }
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.TickInterval != time.Minute || cfg.App.SalesWindow != 5*time.Minute {
		t.Fatalf("duration strings not parsed: %s / %s", cfg.App.TickInterval, cfg.App.SalesWindow)
	}
	if cfg.App.PriceCapRatio != 1.40 {
		t.Fatalf("expected cap ratio 1.40, got %g", cfg.App.PriceCapRatio)
	}
	if cfg.Promo.Pause != 3*time.Minute {
		t.Fatalf("expected promo pause 3m, got %s", cfg.Promo.Pause)
	}
	// 文件没写的字段回落到默认值
	if cfg.App.PriceRoundStep != 0.01 {
		t.Fatalf("expected default round step, got %g", cfg.App.PriceRoundStep)
	}
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "app": {
    "tick_interval": "1m",
    "sales_window": "30s"
  }
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for window < interval")
	}
}
