package recovery

import (
	"time"

	"github.com/louisbranch/rekey/internal/platform/config"
)

// Config controls WebAuthn relying party settings and recovery TTLs.
type Config struct {
	RPDisplayName string        `env:"REKEY_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Rekey"`
	RPID          string        `env:"REKEY_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"REKEY_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	TokenTTL      time.Duration `env:"REKEY_RECOVERY_TOKEN_TTL"       envDefault:"1h"`
	ChallengeTTL  time.Duration `env:"REKEY_RECOVERY_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns recovery configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName: "Rekey",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
			TokenTTL:      time.Hour,
			ChallengeTTL:  5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Rekey"
	}
	if cfg.RPID == "" {
		cfg.RPID = "localhost"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return cfg
}
