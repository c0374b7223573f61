package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Crawl.BatchMultiplier != 3 {
		t.Errorf("BatchMultiplier = %d, want 3", cfg.Crawl.BatchMultiplier)
	}
	if cfg.Gateway.MinIntervalMs != 550 {
		t.Errorf("MinIntervalMs = %d, want 550", cfg.Gateway.MinIntervalMs)
	}
	if cfg.Recovery.MaxRestartRetries != 10 {
		t.Errorf("MaxRestartRetries = %d, want 10", cfg.Recovery.MaxRestartRetries)
	}
	if cfg.Recovery.DeadProcessThreshold != 2 {
		t.Errorf("DeadProcessThreshold = %d, want 2", cfg.Recovery.DeadProcessThreshold)
	}
	if cfg.Crawl.CooldownSec != 600 {
		t.Errorf("CooldownSec = %d, want 600", cfg.Crawl.CooldownSec)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("默认配置Validate() error = %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
crawl:
  batch_multiplier: 5
  jitter_min_ms: 100
  jitter_max_ms: 200
recovery:
  rotation_batch_size: 4
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Crawl.BatchMultiplier != 5 {
		t.Errorf("BatchMultiplier = %d, want 5", cfg.Crawl.BatchMultiplier)
	}
	if cfg.Recovery.RotationBatchSize != 4 {
		t.Errorf("RotationBatchSize = %d, want 4", cfg.Recovery.RotationBatchSize)
	}
	// 未覆盖的键保持默认
	if cfg.Gateway.MinIntervalMs != 550 {
		t.Errorf("MinIntervalMs = %d, want 550", cfg.Gateway.MinIntervalMs)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"默认配置有效", func(c *Config) {}, false},
		{"批次系数过小", func(c *Config) { c.Crawl.BatchMultiplier = 0 }, true},
		{"网关间隔过小", func(c *Config) { c.Gateway.MinIntervalMs = 50 }, true},
		{"重试次数过小", func(c *Config) { c.Recovery.MaxRestartRetries = 0 }, true},
		{"抖动区间颠倒", func(c *Config) { c.Crawl.JitterMinMs = 5000; c.Crawl.JitterMaxMs = 2000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
