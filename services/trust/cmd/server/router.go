package main

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/engine"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/httpx"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/jobs"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/nonce"
)

type app struct {
	engine       *engine.Engine
	resources    engine.ResourceAccessor
	killSwitch   bool
	resultSecret string
	resultSeen   nonce.Ledger
	log          *slog.Logger
}

func newRouter(a *app) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/trust", func(api chi.Router) {
		api.Post("/executions", a.handleExecute)
		api.Post("/executions/{execution_id}/undo", a.handleUndo)
		api.Get("/audit", a.handleAuditLog)
		api.Get("/audit/verify", a.handleAuditVerify)
		api.Get("/outcomes", a.handleOutcomes)
	})

	r.Post("/jobs/result", a.handleJobResult)
	return r
}

func (a *app) handleExecute(w http.ResponseWriter, r *http.Request) {
	// The kill switch is checked before the engine is invoked at all.
	if a.killSwitch {
		httpx.WriteError(w, r, 503, httpx.CodeKillSwitchActive, engine.ErrKillSwitchActive.Error())
		return
	}
	var req struct {
		Approval approval.SignedApproval `json:"approval"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, r, 400, httpx.CodeBadJSON, err.Error())
		return
	}

	rec, err := a.engine.ExecuteWithApproval(r.Context(), req.Approval, a.resources)
	if err != nil {
		a.log.Warn("execution rejected or failed",
			"approval_id", req.Approval.ApprovalID,
			"scope", req.Approval.Scope,
			"error", err)
		httpx.WriteEngineError(w, r, err)
		return
	}
	a.log.Info("execution completed",
		"execution_id", rec.ExecutionID,
		"scope", rec.Scope,
		"action_type", rec.ActionType,
		"duration_ms", rec.DurationMs)
	httpx.WriteResult(w, r, 200, map[string]any{"execution": rec})
}

func (a *app) handleUndo(w http.ResponseWriter, r *http.Request) {
	if a.killSwitch {
		httpx.WriteError(w, r, 503, httpx.CodeKillSwitchActive, engine.ErrKillSwitchActive.Error())
		return
	}
	executionID := chi.URLParam(r, "execution_id")
	rec, err := a.engine.Undo(r.Context(), executionID, a.resources)
	if err != nil {
		a.log.Warn("undo rejected or failed", "execution_id", executionID, "error", err)
		httpx.WriteEngineError(w, r, err)
		return
	}
	a.log.Info("execution undone", "execution_id", rec.ExecutionID, "scope", rec.Scope)
	httpx.WriteResult(w, r, 200, map[string]any{"execution": rec})
}

func (a *app) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := a.engine.AuditLog().List(r.Context())
	if err != nil {
		httpx.WriteError(w, r, 500, "AUDIT_READ_ERROR", err.Error())
		return
	}
	httpx.WriteResult(w, r, 200, map[string]any{"entries": entries})
}

func (a *app) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.AuditLog().VerifyChain(r.Context())
	if err != nil {
		httpx.WriteError(w, r, 500, "AUDIT_VERIFY_ERROR", err.Error())
		return
	}
	httpx.WriteResult(w, r, 200, map[string]any{"report": report})
}

func (a *app) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	httpx.WriteResult(w, r, 200, map[string]any{"outcomes": a.engine.Tracker().Snapshot()})
}

// handleJobResult receives HMAC-signed worker results. Duplicate deliveries
// of the same jobId inside the replay window are rejected as conflicts.
func (a *app) handleJobResult(w http.ResponseWriter, r *http.Request) {
	if a.resultSecret == "" {
		httpx.WriteError(w, r, 503, "RESULTS_DISABLED", "job result intake is not configured")
		return
	}
	var result jobs.JobResult
	if err := httpx.ReadJSON(r, &result); err != nil {
		httpx.WriteError(w, r, 400, httpx.CodeBadJSON, err.Error())
		return
	}
	if result.JobID == "" {
		httpx.WriteError(w, r, 400, "BAD_RESULT", "jobId is required")
		return
	}
	if err := result.VerifySignature(a.resultSecret); err != nil {
		a.log.Warn("job result signature rejected", "job_id", result.JobID, "worker_id", result.WorkerID)
		httpx.WriteError(w, r, 401, "INVALID_SIGNATURE", "job result signature verification failed")
		return
	}
	if result.ResultData != nil {
		computed, err := jobs.ComputeResultHash(result.ResultData)
		if err != nil || computed != result.ResultHash {
			httpx.WriteError(w, r, 400, "RESULT_HASH_MISMATCH", "resultHash does not match resultData")
			return
		}
	}
	if err := a.resultSeen.Consume(r.Context(), result.JobID, time.Now()); err != nil {
		if errors.Is(err, nonce.ErrReplay) {
			httpx.WriteError(w, r, 409, "DUPLICATE_RESULT", "result for this job was already accepted")
			return
		}
		httpx.WriteError(w, r, 500, "LEDGER_ERROR", err.Error())
		return
	}
	a.log.Info("job result accepted",
		"job_id", result.JobID,
		"status", result.Status,
		"worker_id", result.WorkerID,
		"latency_ms", result.Metrics.LatencyMs)
	httpx.WriteResult(w, r, 202, map[string]any{"accepted": true})
}
