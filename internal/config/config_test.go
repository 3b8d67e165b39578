package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("port = %d, want 8888", cfg.Server.Port)
	}
	if cfg.Server.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Server.Workers)
	}
	if cfg.Server.QueueCapacity != 1000 {
		t.Errorf("queue capacity = %d, want 1000", cfg.Server.QueueCapacity)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("session ttl = %v, want 1h", cfg.Session.TTL)
	}
	if cfg.Trade.OfferTTL != 15*time.Minute {
		t.Errorf("offer ttl = %v, want 15m", cfg.Trade.OfferTTL)
	}
	if cfg.Trade.LockTTL != 7*24*time.Hour {
		t.Errorf("lock ttl = %v, want 168h", cfg.Trade.LockTTL)
	}
	if cfg.Market.FeeRate != "0.15" {
		t.Errorf("fee rate = %q, want 0.15", cfg.Market.FeeRate)
	}
	if cfg.Unbox.KeyPrice != "2.5" {
		t.Errorf("key price = %q, want 2.5", cfg.Unbox.KeyPrice)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  port: 9999\n  workers: 2\nmarket:\n  fee_rate: \"0.10\"\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Server.Workers != 2 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Market.FeeRate != "0.10" {
		t.Errorf("fee rate = %q, want 0.10", cfg.Market.FeeRate)
	}
	// Unset keys keep their defaults.
	if cfg.Server.QueueCapacity != 1000 {
		t.Errorf("queue capacity = %d, want default 1000", cfg.Server.QueueCapacity)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 accepted")
	}

	cfg = base()
	cfg.Server.Workers = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative workers accepted")
	}

	cfg = base()
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty store path accepted")
	}

	cfg = base()
	cfg.Trade.OfferTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero offer ttl accepted")
	}
}
