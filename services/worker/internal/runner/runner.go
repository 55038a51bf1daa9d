// Package runner drives the worker poll loop: verify the ticket, run the
// job, sign and post the result.
package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/canonical"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/jobs"
	"github.com/gemimi2525-star/super-platform-sub010/services/worker/internal/client"
	"github.com/gemimi2525-star/super-platform-sub010/services/worker/internal/config"
	"github.com/gemimi2525-star/super-platform-sub010/services/worker/internal/dispatch"
)

// Failure codes reported back in a FAILED result.
const (
	CodeTicketInvalid   = "TICKET_INVALID"
	CodeTicketExpired   = "TICKET_EXPIRED"
	CodePayloadMismatch = "PAYLOAD_MISMATCH"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeHashError       = "HASH_ERROR"
)

type Runner struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	api        client.ResultPoster
	publicKey  []byte
	log        *slog.Logger
	now        func() time.Time
}

func New(cfg *config.Config, api client.ResultPoster, log *slog.Logger) (*Runner, error) {
	pub, err := base64.StdEncoding.DecodeString(cfg.PublicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode ticket public key: %w", err)
	}
	return &Runner{
		cfg:        cfg,
		dispatcher: dispatch.New(log),
		api:        api,
		publicKey:  pub,
		log:        log,
		now:        time.Now,
	}, nil
}

// WithClock overrides the runner's time source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run blocks, polling on the configured interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("worker started", "worker_id", r.cfg.WorkerID, "poll_interval", r.cfg.PollInterval.String())

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("worker shutting down")
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

// pollOnce handles one tick. Job intake arrives via push today; the tick
// keeps the loop alive and gives a place for a pull source later.
func (r *Runner) pollOnce(ctx context.Context) {
	r.log.Debug("poll tick", "worker_id", r.cfg.WorkerID)
}

// ProcessJob runs one envelope end to end. Every verification failure is
// reported back as a FAILED result rather than dropped.
func (r *Runner) ProcessJob(ctx context.Context, env *client.JobEnvelope) error {
	ticket := &env.Ticket

	if err := ticket.VerifySignature(r.publicKey); err != nil {
		r.log.Warn("ticket signature rejected", "job_id", ticket.JobID, "error", err)
		return r.reportFailure(ctx, ticket, CodeTicketInvalid, err)
	}
	if err := ticket.ValidateExpiry(r.now()); err != nil {
		r.log.Warn("ticket expired", "job_id", ticket.JobID, "error", err)
		return r.reportFailure(ctx, ticket, CodeTicketExpired, err)
	}
	if err := ticket.ValidatePayloadHash(env.Payload); err != nil {
		r.log.Warn("payload hash mismatch", "job_id", ticket.JobID, "error", err)
		return r.reportFailure(ctx, ticket, CodePayloadMismatch, err)
	}

	startedAt := r.now().UnixMilli()
	resultData, execErr := r.dispatcher.Dispatch(ticket.JobType, env.Payload, ticket.TraceID)
	finishedAt := r.now().UnixMilli()

	if execErr != nil {
		return r.reportFailure(ctx, ticket, CodeExecutionError, execErr)
	}

	resultHash, err := jobs.ComputeResultHash(resultData)
	if err != nil {
		return r.reportFailure(ctx, ticket, CodeHashError, err)
	}

	result := &jobs.JobResult{
		JobID:      ticket.JobID,
		Status:     jobs.ResultSucceeded,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		ResultHash: resultHash,
		ResultData: resultData,
		Metrics: jobs.JobMetrics{
			Attempts:  1,
			LatencyMs: finishedAt - startedAt,
		},
		TraceID:  ticket.TraceID,
		WorkerID: r.cfg.WorkerID,
	}
	if err := result.Sign(r.cfg.HMACSecret); err != nil {
		return err
	}

	if err := r.api.PostResult(ctx, result); err != nil {
		r.log.Error("result delivery failed", "job_id", ticket.JobID, "error", err)
		return err
	}

	r.log.Info("job completed", "job_id", ticket.JobID, "job_type", ticket.JobType, "latency_ms", finishedAt-startedAt)
	return nil
}

func (r *Runner) reportFailure(ctx context.Context, ticket *jobs.JobTicket, code string, cause error) error {
	now := r.now().UnixMilli()

	result := &jobs.JobResult{
		JobID:        ticket.JobID,
		Status:       jobs.ResultFailed,
		StartedAt:    now,
		FinishedAt:   now,
		ResultHash:   canonical.HashBytes(nil),
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
		Metrics: jobs.JobMetrics{
			Attempts: 1,
		},
		TraceID:  ticket.TraceID,
		WorkerID: r.cfg.WorkerID,
	}
	if err := result.Sign(r.cfg.HMACSecret); err != nil {
		return err
	}
	return r.api.PostResult(ctx, result)
}
