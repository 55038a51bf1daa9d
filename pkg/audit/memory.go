package audit

import (
	"context"
	"sync"
)

// MemoryLog keeps the chain in process. Development and tests only: the
// chain resets on restart.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{head: GenesisHash}
}

func (l *MemoryLog) Append(_ context.Context, d Draft) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := seal(d, len(l.entries)+1, l.head)
	if err != nil {
		return Entry{}, err
	}
	l.entries = append(l.entries, e)
	l.head = e.RecordHash
	return e, nil
}

func (l *MemoryLog) List(_ context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *MemoryLog) VerifyChain(ctx context.Context) (Report, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return Report{}, err
	}
	return Verify(entries), nil
}

// Corrupt overwrites a stored entry in place. Test hook for chain-integrity
// checks; not part of the Log interface.
func (l *MemoryLog) Corrupt(index int, mutate func(*Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mutate(&l.entries[index])
}
