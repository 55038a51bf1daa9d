package engine

import (
	"context"
	"sync"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
)

// Status is the terminal outcome of an execution. COMPLETED may later
// transition to UNDONE; FAILED is final.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusUndone    Status = "UNDONE"
)

// UndoPlan carries what undo needs: the execution id keys the snapshot, the
// target tells the accessor where to restore it.
type UndoPlan struct {
	ExecutionID string          `json:"executionId"`
	Target      approval.Target `json:"target"`
}

// ExecutionRecord is the durable result of one execution attempt. Written
// once; mutated only for the COMPLETED -> UNDONE transition.
type ExecutionRecord struct {
	ExecutionID string              `json:"executionId"`
	ApprovalID  string              `json:"approvalId"`
	IntentID    string              `json:"intentId"`
	ActionType  approval.ActionType `json:"actionType"`
	Scope       string              `json:"scope"`
	Target      approval.Target     `json:"target"`
	Status      Status              `json:"status"`
	SnapshotRef string              `json:"snapshotRef,omitempty"`
	UndoPlan    *UndoPlan           `json:"undoPlan,omitempty"`
	StartedAt   int64               `json:"startedAt"`
	FinishedAt  int64               `json:"finishedAt"`
	DurationMs  int64               `json:"durationMs"`
	Error       string              `json:"error,omitempty"`
}

// RecordStore persists execution records.
type RecordStore interface {
	Save(ctx context.Context, rec ExecutionRecord) error
	Get(ctx context.Context, executionID string) (ExecutionRecord, error)
	// MarkUndone transitions COMPLETED -> UNDONE and clears the undo plan.
	// Any other starting state is ErrNotUndoable.
	MarkUndone(ctx context.Context, executionID string, finishedAt int64) (ExecutionRecord, error)
}

// MemoryRecordStore is the development/test backend.
type MemoryRecordStore struct {
	mu   sync.Mutex
	recs map[string]ExecutionRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{recs: make(map[string]ExecutionRecord)}
}

func (s *MemoryRecordStore) Save(_ context.Context, rec ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ExecutionID] = rec
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, executionID string) (ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[executionID]
	if !ok {
		return ExecutionRecord{}, ErrExecutionNotFound
	}
	return rec, nil
}

func (s *MemoryRecordStore) MarkUndone(_ context.Context, executionID string, finishedAt int64) (ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[executionID]
	if !ok {
		return ExecutionRecord{}, ErrExecutionNotFound
	}
	if rec.Status != StatusCompleted {
		return ExecutionRecord{}, ErrNotUndoable
	}
	rec.Status = StatusUndone
	rec.UndoPlan = nil
	rec.FinishedAt = finishedAt
	s.recs[executionID] = rec
	return rec, nil
}
