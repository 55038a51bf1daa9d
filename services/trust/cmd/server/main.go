package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/audit"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/db"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/engine"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/nonce"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/policy"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/signature"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/snapshot"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/trust"
	"github.com/gemimi2525-star/super-platform-sub010/services/trust/internal/config"
	"github.com/gemimi2525-star/super-platform-sub010/services/trust/internal/notes"
)

// resultReplayWindow bounds how long a worker job id stays in the duplicate
// ledger. Workers retry within minutes, not days.
const resultReplayWindow = 24 * time.Hour

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		// Misconfiguration is fatal at boot, never degraded per request.
		log.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	var pubKey []byte
	if cfg.ApprovalPublicKey != "" {
		pubKey, err = signature.DecodePublicKey(cfg.ApprovalPublicKey)
		if err != nil {
			log.Error("approval public key unusable", "error", err)
			os.Exit(1)
		}
	}
	verifier, err := signature.NewVerifier(cfg.Mode, signature.Options{
		ApprovalPublicKey: pubKey,
		AllowUnsigned:     cfg.AllowUnsigned,
	})
	if err != nil {
		log.Error("verifier construction refused", "error", err)
		os.Exit(1)
	}

	phase := policy.DefaultPhase()
	if cfg.PolicyPhaseFile != "" {
		phase, err = policy.LoadPhase(cfg.PolicyPhaseFile)
		if err != nil {
			log.Error("policy phase file rejected", "error", err)
			os.Exit(1)
		}
	}
	gate := policy.NewGate(phase)

	var (
		nonces    nonce.Ledger
		snapshots snapshot.Store
		auditLog  audit.Log
		records   engine.RecordStore
		resources engine.ResourceAccessor
	)
	if cfg.DatabaseURL != "" {
		pool := db.MustConnect(context.Background(), cfg.DatabaseURL)
		defer pool.Close()
		nonces = nonce.NewPostgresLedger(pool)
		snapshots = snapshot.NewPostgresStore(pool)
		auditLog = audit.NewPostgresLog(pool)
		records = engine.NewPostgresRecordStore(pool)
		resources = notes.NewPostgresStore(pool)
	} else {
		// In-memory state resets on restart; config.Load refuses this in
		// production.
		log.Warn("running with in-memory stores; all trust state is volatile")
		nonces = nonce.NewMemoryLedger(0)
		snapshots = snapshot.NewMemoryStore()
		auditLog = audit.NewMemoryLog()
		records = engine.NewMemoryRecordStore()
		resources = notes.NewMemoryStore()
	}

	eng, err := engine.New(engine.Deps{
		Verifier:  verifier,
		Gate:      gate,
		Nonces:    nonces,
		Snapshots: snapshots,
		AuditLog:  auditLog,
		Records:   records,
		Tracker:   trust.NewTracker(0),
	})
	if err != nil {
		log.Error("engine construction refused", "error", err)
		os.Exit(1)
	}

	resultSeen := nonce.Ledger(nonce.NewMemoryLedger(resultReplayWindow))
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("redis url rejected", "error", err)
			os.Exit(1)
		}
		resultSeen = nonce.NewRedisLedger(redis.NewClient(opts), "trust:job:", resultReplayWindow)
	}

	a := &app{
		engine:       eng,
		resources:    resources,
		killSwitch:   cfg.KillSwitch,
		resultSecret: cfg.JobResultHMACSecret,
		resultSeen:   resultSeen,
		log:          log,
	}

	log.Info("trust service listening",
		"port", cfg.Port,
		"mode", cfg.Mode,
		"phase", gate.PhaseName(),
		"kill_switch", cfg.KillSwitch)
	if err := http.ListenAndServe(":"+cfg.Port, newRouter(a)); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
