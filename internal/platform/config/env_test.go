package config

import (
	"testing"
	"time"
)

type sampleConfig struct {
	Addr string        `env:"REKEY_TEST_ADDR" envDefault:"localhost:9999"`
	TTL  time.Duration `env:"REKEY_TEST_TTL"  envDefault:"5m"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg sampleConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "localhost:9999" {
		t.Fatalf("addr = %q, want default", cfg.Addr)
	}
	if cfg.TTL != 5*time.Minute {
		t.Fatalf("ttl = %v, want 5m", cfg.TTL)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("REKEY_TEST_ADDR", "example:1234")
	t.Setenv("REKEY_TEST_TTL", "30s")

	var cfg sampleConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "example:1234" {
		t.Fatalf("addr = %q, want override", cfg.Addr)
	}
	if cfg.TTL != 30*time.Second {
		t.Fatalf("ttl = %v, want 30s", cfg.TTL)
	}
}

func TestParseEnvInvalidValue(t *testing.T) {
	t.Setenv("REKEY_TEST_TTL", "not-a-duration")

	var cfg sampleConfig
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected parse error")
	}
}
