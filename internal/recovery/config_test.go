package recovery

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("REKEY_WEBAUTHN_RP_ID", "")
	t.Setenv("REKEY_WEBAUTHN_RP_ORIGINS", "")

	cfg := LoadConfigFromEnv()
	if cfg.RPID != "localhost" {
		t.Fatalf("rp id = %q, want localhost", cfg.RPID)
	}
	if len(cfg.RPOrigins) == 0 {
		t.Fatal("expected default origins")
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("token ttl = %v, want 1h", cfg.TokenTTL)
	}
	if cfg.ChallengeTTL != 5*time.Minute {
		t.Fatalf("challenge ttl = %v, want 5m", cfg.ChallengeTTL)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("REKEY_WEBAUTHN_RP_ID", "example.com")
	t.Setenv("REKEY_WEBAUTHN_RP_ORIGINS", "https://example.com,https://www.example.com")
	t.Setenv("REKEY_RECOVERY_TOKEN_TTL", "30m")
	t.Setenv("REKEY_RECOVERY_CHALLENGE_TTL", "90s")

	cfg := LoadConfigFromEnv()
	if cfg.RPID != "example.com" {
		t.Fatalf("rp id = %q, want example.com", cfg.RPID)
	}
	if len(cfg.RPOrigins) != 2 {
		t.Fatalf("origins = %v, want 2 entries", cfg.RPOrigins)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("token ttl = %v, want 30m", cfg.TokenTTL)
	}
	if cfg.ChallengeTTL != 90*time.Second {
		t.Fatalf("challenge ttl = %v, want 90s", cfg.ChallengeTTL)
	}
}
