package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Providers.DefaultTimeout != 5*time.Second {
		t.Fatalf("default timeout = %v", cfg.Providers.DefaultTimeout)
	}
	if len(cfg.Providers.Priority) != 3 || cfg.Providers.Priority[0] != "sina" {
		t.Fatalf("priority = %v", cfg.Providers.Priority)
	}
	if cfg.Session.AttemptCap != 5 {
		t.Fatalf("attempt cap = %d", cfg.Session.AttemptCap)
	}
	if cfg.Pools.ProxyHealthFloor != 30 {
		t.Fatalf("health floor = %f", cfg.Pools.ProxyHealthFloor)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
log_level: debug
server:
  addr: ":9999"
providers:
  priority: [tencent, sina]
  timeouts:
    tencent: 2s
session:
  token_ttl: 1h
captcha:
  - name: ocr
    endpoint: http://ocr:8000/solve
    timeout: 5s
    min_confidence: 0.7
pools:
  phones: ["13800000000", "13900000000"]
  phone_max_usage: 3
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Providers.Priority) != 2 || cfg.Providers.Priority[0] != "tencent" {
		t.Fatalf("priority = %v", cfg.Providers.Priority)
	}
	if cfg.Providers.Timeouts["tencent"] != 2*time.Second {
		t.Fatalf("tencent timeout = %v", cfg.Providers.Timeouts["tencent"])
	}
	if cfg.Session.TokenTTL != time.Hour {
		t.Fatalf("token ttl = %v", cfg.Session.TokenTTL)
	}
	if len(cfg.Captcha) != 1 || cfg.Captcha[0].MinConfidence != 0.7 {
		t.Fatalf("captcha = %+v", cfg.Captcha)
	}
	if len(cfg.Pools.Phones) != 2 || cfg.Pools.PhoneMaxUsage != 3 {
		t.Fatalf("pools = %+v", cfg.Pools)
	}
	// Defaults still apply for untouched keys.
	if cfg.Providers.DefaultTimeout != 5*time.Second {
		t.Fatalf("default timeout = %v", cfg.Providers.DefaultTimeout)
	}
}
