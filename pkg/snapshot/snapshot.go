// Package snapshot captures pre-change resource state keyed by execution id.
// A snapshot is consumed exactly once by undo: taking it removes it, so a
// second undo of the same execution deterministically fails.
package snapshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
)

// ErrNotFound covers both "never executed" and "already undone"; callers
// must not be able to tell the two apart through this error.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot holds the raw pre-change content of one target.
type Snapshot struct {
	ExecutionID string          `json:"executionId"`
	Target      approval.Target `json:"target"`
	Content     string          `json:"content"`
	ReadAt      time.Time       `json:"readAt"`
}

// Store persists snapshots. Take consumes.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Take(ctx context.Context, executionID string) (Snapshot, error)
}

// MemoryStore is the development/test backend; state resets on restart.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ExecutionID] = snap
	return nil
}

func (s *MemoryStore) Take(_ context.Context, executionID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[executionID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	delete(s.snaps, executionID)
	return snap, nil
}
