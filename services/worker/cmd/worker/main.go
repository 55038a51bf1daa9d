package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gemimi2525-star/super-platform-sub010/services/worker/internal/client"
	"github.com/gemimi2525-star/super-platform-sub010/services/worker/internal/config"
	"github.com/gemimi2525-star/super-platform-sub010/services/worker/internal/runner"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	log.Info("worker configured", "api_url", cfg.APIURL, "worker_id", cfg.WorkerID)

	api := client.New(cfg.APIURL, cfg.HTTPTimeout)
	r, err := runner.New(cfg, api, log)
	if err != nil {
		log.Error("worker init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r.Run(ctx)
	log.Info("worker stopped")
}
