// Package nonce tracks consumed single-use tokens so a signed approval can
// never execute twice. Consume is an atomic check-and-set: two racing calls
// with the same nonce have at most one winner.
package nonce

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrReplay marks a nonce that was already consumed. Callers map it to a
// conflict (HTTP 409), distinct from other validation failures.
var ErrReplay = errors.New("nonce: already consumed")

// Ledger records first use and rejects every later one.
type Ledger interface {
	Consume(ctx context.Context, nonce string, at time.Time) error
}

// MemoryLedger keeps consumed nonces in process. State resets on restart, so
// it is suitable for development and tests only. A zero TTL keeps nonces for
// the lifetime of the process; a positive TTL prunes old entries, which is
// the behavior the HMAC job-result pipeline wants.
type MemoryLedger struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{ttl: ttl, seen: make(map[string]time.Time)}
}

func (l *MemoryLedger) Consume(_ context.Context, nonce string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ttl > 0 {
		cutoff := at.Add(-l.ttl)
		for n, t := range l.seen {
			if t.Before(cutoff) {
				delete(l.seen, n)
			}
		}
	}
	if _, ok := l.seen[nonce]; ok {
		return ErrReplay
	}
	l.seen[nonce] = at
	return nil
}

// Len reports how many nonces are currently recorded.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
