// Package config loads the trust service configuration from the
// environment. Unsafe combinations (unsigned-approval bypass in production)
// are rejected here, at boot, before any request is served.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/signature"
)

type Config struct {
	Mode signature.Mode

	// KillSwitch short-circuits every execute request with 503 before the
	// engine is invoked at all.
	KillSwitch bool

	// AllowUnsigned is the development-only signature bypass. Fatal in
	// production.
	AllowUnsigned bool

	// ApprovalPublicKey is the base64 Ed25519 key approvals are verified
	// against.
	ApprovalPublicKey string

	// JobResultHMACSecret verifies worker job results.
	JobResultHMACSecret string

	// DatabaseURL selects the durable Postgres backends. Empty falls back to
	// in-memory stores, which lose all state on restart. Development only,
	// and refused in production.
	DatabaseURL string

	// RedisURL optionally backs the job-result duplicate ledger with Redis,
	// so the replay window survives restarts and is shared across replicas.
	RedisURL string

	// PolicyPhaseFile optionally overrides the built-in rollout phase.
	PolicyPhaseFile string

	Port string
}

func Load() (Config, error) {
	// Not an error if absent; the environment may be set by the platform.
	_ = godotenv.Load()

	mode, err := signature.ParseMode(os.Getenv("RUNTIME_MODE"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                mode,
		KillSwitch:          envBool("EXECUTION_KILL_SWITCH", false),
		AllowUnsigned:       envBool("ALLOW_UNSIGNED_APPROVALS", false),
		ApprovalPublicKey:   strings.TrimSpace(os.Getenv("APPROVAL_PUBLIC_KEY")),
		JobResultHMACSecret: strings.TrimSpace(os.Getenv("JOB_RESULT_HMAC_SECRET")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:            strings.TrimSpace(os.Getenv("REDIS_URL")),
		PolicyPhaseFile:     strings.TrimSpace(os.Getenv("POLICY_PHASE_FILE")),
		Port:                strings.TrimSpace(os.Getenv("SERVICE_PORT")),
	}
	if cfg.Port == "" {
		cfg.Port = "8090"
	}

	if mode == signature.ModeProduction {
		if cfg.AllowUnsigned {
			return Config{}, signature.ErrFatalMisconfiguration
		}
		if cfg.ApprovalPublicKey == "" {
			return Config{}, fmt.Errorf("config: APPROVAL_PUBLIC_KEY is required in production")
		}
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("config: DATABASE_URL is required in production (in-memory state does not survive restarts)")
		}
	}
	return cfg, nil
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return def
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
