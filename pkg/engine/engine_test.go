package engine

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/audit"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/nonce"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/policy"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/signature"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/snapshot"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/trust"
)

// spyAccessor is an in-memory resource store that counts calls, so tests can
// assert the engine's exactly-once side-effect contract.
type spyAccessor struct {
	mu       sync.Mutex
	contents map[string]string
	reads    int
	applies  int
	readErr  error
	applyErr error
}

func newSpyAccessor(seed map[string]string) *spyAccessor {
	if seed == nil {
		seed = make(map[string]string)
	}
	return &spyAccessor{contents: seed}
}

func (s *spyAccessor) Read(_ context.Context, target approval.Target) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return "", s.readErr
	}
	return s.contents[target.ID], nil
}

func (s *spyAccessor) Apply(_ context.Context, target approval.Target, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies++
	if s.applyErr != nil {
		return s.applyErr
	}
	s.contents[target.ID] = content
	return nil
}

func (s *spyAccessor) applyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applies
}

type fixture struct {
	engine   *Engine
	pub      ed25519.PublicKey
	priv     ed25519.PrivateKey
	auditLog *audit.MemoryLog
	tracker  *trust.Tracker
	records  *MemoryRecordStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	verifier, err := signature.NewVerifier(signature.ModeProduction, signature.Options{ApprovalPublicKey: pub})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	auditLog := audit.NewMemoryLog()
	tracker := trust.NewTracker(20)
	records := NewMemoryRecordStore()
	eng, err := New(Deps{
		Verifier:  verifier,
		Gate:      policy.NewGate(policy.DefaultPhase()),
		Nonces:    nonce.NewMemoryLedger(0),
		Snapshots: snapshot.NewMemoryStore(),
		AuditLog:  auditLog,
		Records:   records,
		Tracker:   tracker,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{engine: eng, pub: pub, priv: priv, auditLog: auditLog, tracker: tracker, records: records}
}

func (f *fixture) approval(t *testing.T, mutate ...func(*approval.SignedApproval)) approval.SignedApproval {
	t.Helper()
	now := time.Now()
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		t.Fatalf("rand: %v", err)
	}
	a := approval.SignedApproval{
		ApprovalID:   "apv_" + hex.EncodeToString(nonceBytes[:4]),
		IntentID:     "int_1",
		ActionType:   approval.ActionNoteRewrite,
		Scope:        "core.notes",
		Target:       approval.Target{ID: "note_1", Type: "note", Name: "Meeting notes"},
		Diff:         approval.Diff{Before: "old body", After: "new body", Summary: "rewrite"},
		ApprovedBy:   "user_1",
		ApprovedAt:   now.UnixMilli(),
		ExpiresAt:    now.Add(5 * time.Minute).UnixMilli(),
		Nonce:        hex.EncodeToString(nonceBytes),
		SignedFields: approval.RequiredSignedFields,
	}
	for _, m := range mutate {
		m(&a)
	}
	if err := a.Sign(f.priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return a
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(map[string]string{"note_1": "old body"})
	a := f.approval(t)

	rec, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if err != nil {
		t.Fatalf("ExecuteWithApproval: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", rec.Status)
	}
	if rec.SnapshotRef == "" || rec.UndoPlan == nil {
		t.Fatalf("completed record must carry snapshotRef and undoPlan: %+v", rec)
	}
	if res.contents["note_1"] != "new body" {
		t.Fatalf("apply did not land: %q", res.contents["note_1"])
	}
	if res.reads != 1 || res.applies != 1 {
		t.Fatalf("expected exactly one read and one apply, got %d/%d", res.reads, res.applies)
	}
	entries, _ := f.auditLog.List(context.Background())
	if len(entries) != 1 || entries[0].Status != "COMPLETED" || entries[0].ExecutionID != rec.ExecutionID {
		t.Fatalf("expected one COMPLETED audit entry, got %+v", entries)
	}
	if ratio, n := f.tracker.Ratio("core.notes"); ratio != 1 || n != 1 {
		t.Fatalf("tracker signal = %v/%d, want 1/1", ratio, n)
	}
}

func TestNonceReplayRejectedIdempotently(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(map[string]string{"note_1": "old body"})
	a1 := f.approval(t)

	if _, err := f.engine.ExecuteWithApproval(context.Background(), a1, res); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	// Same nonce under a different approvalId is still a replay.
	a2 := f.approval(t, func(a *approval.SignedApproval) {
		a.ApprovalID = "apv_other"
		a.Nonce = a1.Nonce
	})
	_, err := f.engine.ExecuteWithApproval(context.Background(), a2, res)
	if !errors.Is(err, ErrNonceReplay) {
		t.Fatalf("expected ErrNonceReplay, got %v", err)
	}
	if res.applyCount() != 1 {
		t.Fatalf("replay must not reach apply, applies = %d", res.applyCount())
	}
}

func TestUnsignedApprovalNeverReachesApply(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(nil)
	a := f.approval(t)
	a.Signature = ""

	_, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if res.applyCount() != 0 || res.reads != 0 {
		t.Fatalf("rejected approval caused side effects: reads=%d applies=%d", res.reads, res.applies)
	}
	if entries, _ := f.auditLog.List(context.Background()); len(entries) != 0 {
		t.Fatalf("validation failure must not be audited, got %d entries", len(entries))
	}
}

func TestExpiredApprovalRejected(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(nil)
	a := f.approval(t, func(a *approval.SignedApproval) {
		a.ExpiresAt = time.Now().Add(-time.Minute).UnixMilli()
	})
	_, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if res.applyCount() != 0 {
		t.Fatalf("expired approval reached apply")
	}
}

func TestScopeOutsideAllowListRejected(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(nil)
	a := f.approval(t, func(a *approval.SignedApproval) {
		a.Scope = "core.files"
	})
	_, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if !errors.Is(err, ErrScopeNotAllowed) {
		t.Fatalf("expected ErrScopeNotAllowed, got %v", err)
	}
	if res.applyCount() != 0 {
		t.Fatalf("denied scope reached apply")
	}
}

func TestDisallowedActionTypeRejected(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(nil)
	a := f.approval(t, func(a *approval.SignedApproval) {
		a.ActionType = "NOTE_DELETE"
	})
	_, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if !errors.Is(err, ErrScopeNotAllowed) {
		t.Fatalf("expected ErrScopeNotAllowed, got %v", err)
	}
}

func TestApplyFailureIsAudited(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(map[string]string{"note_1": "old body"})
	res.applyErr = fmt.Errorf("storage write refused")
	a := f.approval(t)

	rec, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("expected ErrApplyFailed, got %v", err)
	}
	if rec.Status != StatusFailed || rec.Error == "" {
		t.Fatalf("expected FAILED record with error, got %+v", rec)
	}
	entries, _ := f.auditLog.List(context.Background())
	if len(entries) != 1 || entries[0].Status != "FAILED" {
		t.Fatalf("apply failure must be audited, got %+v", entries)
	}
	if ratio, n := f.tracker.Ratio("core.notes"); ratio != 0 || n != 1 {
		t.Fatalf("tracker should record the failure, got %v/%d", ratio, n)
	}
	stored, err := f.records.Get(context.Background(), rec.ExecutionID)
	if err != nil || stored.Status != StatusFailed {
		t.Fatalf("FAILED record not persisted: %+v %v", stored, err)
	}
}

func TestReadFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(nil)
	res.readErr = fmt.Errorf("resource unavailable")
	a := f.approval(t)

	_, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if !errors.Is(err, ErrResourceRead) {
		t.Fatalf("expected ErrResourceRead, got %v", err)
	}
	if res.applyCount() != 0 {
		t.Fatalf("read failure must not reach apply")
	}
}

func TestUndoExactlyOnce(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(map[string]string{"note_1": "old body"})
	a := f.approval(t)

	rec, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	undone, err := f.engine.Undo(context.Background(), rec.ExecutionID, res)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.Status != StatusUndone || undone.UndoPlan != nil {
		t.Fatalf("expected UNDONE record without undo plan, got %+v", undone)
	}
	if res.contents["note_1"] != "old body" {
		t.Fatalf("undo did not restore pre-state: %q", res.contents["note_1"])
	}
	// The undo itself is audited.
	entries, _ := f.auditLog.List(context.Background())
	if len(entries) != 2 || entries[1].Status != "UNDONE" {
		t.Fatalf("expected UNDONE audit entry, got %+v", entries)
	}
	// Second undo deterministically fails; never a silent no-op.
	if _, err := f.engine.Undo(context.Background(), rec.ExecutionID, res); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound on second undo, got %v", err)
	}
}

func TestUndoUnknownExecution(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(nil)
	if _, err := f.engine.Undo(context.Background(), "exe_never", res); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestUndoFailedExecutionRejected(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(map[string]string{"note_1": "old body"})
	res.applyErr = fmt.Errorf("storage write refused")
	a := f.approval(t)

	rec, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("expected ErrApplyFailed, got %v", err)
	}
	if rec.SnapshotRef != "" {
		t.Fatalf("FAILED record must not reference a snapshot: %+v", rec)
	}
	res.applyErr = nil

	// A failed apply left the resource untouched; there is nothing to
	// restore, so undo must reject without calling Apply.
	if _, err := f.engine.Undo(context.Background(), rec.ExecutionID, res); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
	if res.applyCount() != 1 {
		t.Fatalf("undo of a failed execution reached apply, applies = %d", res.applyCount())
	}
	if res.contents["note_1"] != "old body" {
		t.Fatalf("resource changed by rejected undo: %q", res.contents["note_1"])
	}
	// The rejection is stable: retrying gives the same error, and the record
	// keeps its FAILED status.
	if _, err := f.engine.Undo(context.Background(), rec.ExecutionID, res); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound on retry, got %v", err)
	}
	stored, err := f.records.Get(context.Background(), rec.ExecutionID)
	if err != nil || stored.Status != StatusFailed {
		t.Fatalf("record after rejected undo: %+v %v", stored, err)
	}
	entries, _ := f.auditLog.List(context.Background())
	if len(entries) != 1 || entries[0].Status != "FAILED" {
		t.Fatalf("rejected undo must not be audited, got %+v", entries)
	}
}

func TestUndoApplyFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	res := newSpyAccessor(map[string]string{"note_1": "old body"})
	a := f.approval(t)
	rec, err := f.engine.ExecuteWithApproval(context.Background(), a, res)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	res.applyErr = fmt.Errorf("restore refused")
	if _, err := f.engine.Undo(context.Background(), rec.ExecutionID, res); !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("expected ErrApplyFailed, got %v", err)
	}
	// Snapshot was re-saved; the undo can be retried.
	res.applyErr = nil
	if _, err := f.engine.Undo(context.Background(), rec.ExecutionID, res); err != nil {
		t.Fatalf("retry undo: %v", err)
	}
}

// Full scenario from the trust pipeline contract: execute, replay the nonce,
// undo, undo again.
func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := newSpyAccessor(map[string]string{"note_1": "old body"})

	a := f.approval(t)
	rec, err := f.engine.ExecuteWithApproval(ctx, a, res)
	if err != nil || rec.Status != StatusCompleted || rec.SnapshotRef == "" {
		t.Fatalf("step 1: %+v %v", rec, err)
	}

	replay := f.approval(t, func(r *approval.SignedApproval) {
		r.ApprovalID = "apv_replay"
		r.Nonce = a.Nonce
	})
	if _, err := f.engine.ExecuteWithApproval(ctx, replay, res); !errors.Is(err, ErrNonceReplay) {
		t.Fatalf("step 2: expected ErrNonceReplay, got %v", err)
	}

	undone, err := f.engine.Undo(ctx, rec.ExecutionID, res)
	if err != nil || undone.Status != StatusUndone {
		t.Fatalf("step 3: %+v %v", undone, err)
	}

	if _, err := f.engine.Undo(ctx, rec.ExecutionID, res); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("step 4: expected ErrSnapshotNotFound, got %v", err)
	}

	rep, err := f.engine.AuditLog().VerifyChain(ctx)
	if err != nil || !rep.Valid {
		t.Fatalf("audit chain after scenario: %+v %v", rep, err)
	}
}
