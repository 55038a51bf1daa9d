// Package engine orchestrates trusted execution of signed approvals:
// validate -> snapshot -> apply -> record, with hash-chained auditing and
// compensating undo. The engine never touches resource storage itself; the
// caller hands it a ResourceAccessor capability per request.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/audit"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/nonce"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/policy"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/signature"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/snapshot"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/trust"
)

// ExecuteTool names this engine in policy decisions and deny reasons.
const ExecuteTool = "brain.execute"

// ResourceAccessor is the capability the caller supplies. Read returns the
// target's current content; Apply replaces it. The engine calls Read at most
// once and Apply at most once per execution.
type ResourceAccessor interface {
	Read(ctx context.Context, target approval.Target) (string, error)
	Apply(ctx context.Context, target approval.Target, content string) error
}

// Deps wires the engine's collaborators. All fields are required.
type Deps struct {
	Verifier  *signature.Verifier
	Gate      *policy.Gate
	Nonces    nonce.Ledger
	Snapshots snapshot.Store
	AuditLog  audit.Log
	Records   RecordStore
	Tracker   *trust.Tracker
}

// Engine is safe for concurrent use; all mutable state lives behind the
// injected stores, each of which provides its own atomicity.
type Engine struct {
	deps Deps
	now  func() time.Time
}

func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Verifier == nil:
		return nil, fmt.Errorf("engine: verifier is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("engine: policy gate is required")
	case deps.Nonces == nil:
		return nil, fmt.Errorf("engine: nonce ledger is required")
	case deps.Snapshots == nil:
		return nil, fmt.Errorf("engine: snapshot store is required")
	case deps.AuditLog == nil:
		return nil, fmt.Errorf("engine: audit log is required")
	case deps.Records == nil:
		return nil, fmt.Errorf("engine: record store is required")
	case deps.Tracker == nil:
		return nil, fmt.Errorf("engine: trust tracker is required")
	}
	return &Engine{deps: deps, now: time.Now}, nil
}

// WithClock overrides the clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ExecuteWithApproval runs one approval through the full pipeline. All
// rejections happen before any side effect; once the nonce is consumed the
// approval can never execute again, so retries require a fresh approval.
func (e *Engine) ExecuteWithApproval(ctx context.Context, a approval.SignedApproval, res ResourceAccessor) (ExecutionRecord, error) {
	now := e.now()

	// Validation order: structure and expiry first (cheap, no state), then
	// signature, then policy, then the nonce. Consuming the nonce last means
	// a denied request does not burn it.
	if err := a.Validate(now); err != nil {
		switch {
		case errors.Is(err, approval.ErrExpired):
			return ExecutionRecord{}, fmt.Errorf("%w: %v", ErrExpired, err)
		default:
			return ExecutionRecord{}, fmt.Errorf("%w: %v", ErrMalformedApproval, err)
		}
	}
	if err := e.deps.Verifier.VerifyApproval(&a); err != nil {
		return ExecutionRecord{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !e.deps.Gate.IsExecuteAllowed(a.Scope) {
		return ExecutionRecord{}, fmt.Errorf("%w: scope %q", ErrScopeNotAllowed, a.Scope)
	}
	if dec := e.deps.Gate.CheckExecuteAccess(ExecuteTool, a.Scope, string(a.ActionType)); !dec.Safe {
		return ExecutionRecord{}, fmt.Errorf("%w: %s", ErrScopeNotAllowed, dec.Reason)
	}
	if err := e.deps.Nonces.Consume(ctx, a.Nonce, now); err != nil {
		if errors.Is(err, nonce.ErrReplay) {
			return ExecutionRecord{}, fmt.Errorf("%w: nonce %q", ErrNonceReplay, a.Nonce)
		}
		return ExecutionRecord{}, fmt.Errorf("engine: nonce ledger: %w", err)
	}

	executionID := "exe_" + uuid.NewString()
	startedAt := e.now()

	// Last point before side effects: capture and persist the pre-state.
	pre, err := res.Read(ctx, a.Target)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("%w: %v", ErrResourceRead, err)
	}
	if err := e.deps.Snapshots.Save(ctx, snapshot.Snapshot{
		ExecutionID: executionID,
		Target:      a.Target,
		Content:     pre,
		ReadAt:      startedAt,
	}); err != nil {
		return ExecutionRecord{}, fmt.Errorf("engine: snapshot store: %w", err)
	}

	applyErr := res.Apply(ctx, a.Target, a.Diff.After)
	finishedAt := e.now()

	rec := ExecutionRecord{
		ExecutionID: executionID,
		ApprovalID:  a.ApprovalID,
		IntentID:    a.IntentID,
		ActionType:  a.ActionType,
		Scope:       a.Scope,
		Target:      a.Target,
		SnapshotRef: executionID,
		StartedAt:   startedAt.UnixMilli(),
		FinishedAt:  finishedAt.UnixMilli(),
		DurationMs:  finishedAt.Sub(startedAt).Milliseconds(),
	}

	if applyErr != nil {
		// Failures become part of the permanent record: a FAILED execution
		// record and its audit entry are written before the error surfaces.
		// The snapshot is discarded because a failed apply leaves the
		// resource untouched; only COMPLETED executions are undoable.
		rec.Status = StatusFailed
		rec.Error = applyErr.Error()
		rec.SnapshotRef = ""
		if err := e.finishExecution(ctx, rec, false); err != nil {
			return rec, err
		}
		if _, err := e.deps.Snapshots.Take(ctx, executionID); err != nil && !errors.Is(err, snapshot.ErrNotFound) {
			return rec, fmt.Errorf("engine: snapshot store: %w", err)
		}
		return rec, fmt.Errorf("%w: %v", ErrApplyFailed, applyErr)
	}

	rec.Status = StatusCompleted
	rec.UndoPlan = &UndoPlan{ExecutionID: executionID, Target: a.Target}
	if err := e.finishExecution(ctx, rec, true); err != nil {
		return rec, err
	}
	return rec, nil
}

func (e *Engine) finishExecution(ctx context.Context, rec ExecutionRecord, success bool) error {
	if err := e.deps.Records.Save(ctx, rec); err != nil {
		return fmt.Errorf("engine: record store: %w", err)
	}
	if _, err := e.deps.AuditLog.Append(ctx, audit.Draft{
		ExecutionID: rec.ExecutionID,
		ActionType:  string(rec.ActionType),
		Scope:       rec.Scope,
		Status:      string(rec.Status),
		ExecutedAt:  rec.FinishedAt,
	}); err != nil {
		return fmt.Errorf("engine: audit append: %w", err)
	}
	e.deps.Tracker.ReportOutcome(success, rec.Scope)
	return nil
}

// Undo reverses one COMPLETED execution exactly once by restoring its
// snapshot. Only COMPLETED executions hold a snapshot: a failed apply
// discards it at execution time, and a prior undo consumes it. Undoing
// anything else therefore fails with ErrSnapshotNotFound before the resource
// is touched.
func (e *Engine) Undo(ctx context.Context, executionID string, res ResourceAccessor) (ExecutionRecord, error) {
	snap, err := e.deps.Snapshots.Take(ctx, executionID)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return ExecutionRecord{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, executionID)
		}
		return ExecutionRecord{}, fmt.Errorf("engine: snapshot store: %w", err)
	}

	if err := res.Apply(ctx, snap.Target, snap.Content); err != nil {
		// The restore did not happen; put the snapshot back so the caller
		// can retry the undo.
		if saveErr := e.deps.Snapshots.Save(ctx, snap); saveErr != nil {
			return ExecutionRecord{}, fmt.Errorf("%w: %v (snapshot re-save also failed: %v)", ErrApplyFailed, err, saveErr)
		}
		return ExecutionRecord{}, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	now := e.now()
	rec, err := e.deps.Records.MarkUndone(ctx, executionID, now.UnixMilli())
	if err != nil {
		return ExecutionRecord{}, err
	}
	if _, err := e.deps.AuditLog.Append(ctx, audit.Draft{
		ExecutionID: rec.ExecutionID,
		ActionType:  string(rec.ActionType),
		Scope:       rec.Scope,
		Status:      string(StatusUndone),
		ExecutedAt:  now.UnixMilli(),
	}); err != nil {
		return rec, fmt.Errorf("engine: audit append: %w", err)
	}
	return rec, nil
}

// AuditLog exposes the underlying log for the read-only endpoints.
func (e *Engine) AuditLog() audit.Log { return e.deps.AuditLog }

// Tracker exposes the outcome tracker for the read-only endpoints.
func (e *Engine) Tracker() *trust.Tracker { return e.deps.Tracker }
