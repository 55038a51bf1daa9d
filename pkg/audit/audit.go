// Package audit is the append-only, hash-chained record of every execution
// attempt. Each entry's hash covers its content and the previous entry's
// hash, so altering or deleting any historical entry is detectable by
// re-walking the chain, with no external ledger required.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/canonical"
)

// GenesisHash seeds the chain before the first entry.
const GenesisHash = "genesis"

// Draft is an entry before the log assigns identity, sequence, and hashes.
type Draft struct {
	ExecutionID string `json:"executionId"`
	ActionType  string `json:"actionType"`
	Scope       string `json:"scope"`
	Status      string `json:"status"`
	ExecutedAt  int64  `json:"executedAt"`
}

// Entry is one link in the chain. Entries are never mutated or deleted.
type Entry struct {
	EntryID     string `json:"entryId"`
	Seq         int    `json:"seq"`
	ExecutionID string `json:"executionId"`
	ActionType  string `json:"actionType"`
	Scope       string `json:"scope"`
	Status      string `json:"status"`
	ExecutedAt  int64  `json:"executedAt"`
	PrevHash    string `json:"prevHash"`
	RecordHash  string `json:"recordHash"`
}

// Report is the outcome of a chain verification. BrokenAt is the zero-based
// index of the first entry whose link or hash does not hold.
type Report struct {
	Valid    bool   `json:"valid"`
	BrokenAt *int   `json:"brokenAt,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Log appends and reads entries. Append must serialize concurrent callers so
// no two entries chain to the same predecessor. List returns copies in
// append order; callers can never mutate stored entries through it.
type Log interface {
	Append(ctx context.Context, d Draft) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	VerifyChain(ctx context.Context) (Report, error)
}

// ComputeRecordHash hashes an entry's content, including PrevHash but
// excluding RecordHash itself, over the canonical JSON form.
func ComputeRecordHash(e Entry) (string, error) {
	content := struct {
		EntryID     string `json:"entryId"`
		Seq         int    `json:"seq"`
		ExecutionID string `json:"executionId"`
		ActionType  string `json:"actionType"`
		Scope       string `json:"scope"`
		Status      string `json:"status"`
		ExecutedAt  int64  `json:"executedAt"`
		PrevHash    string `json:"prevHash"`
	}{e.EntryID, e.Seq, e.ExecutionID, e.ActionType, e.Scope, e.Status, e.ExecutedAt, e.PrevHash}
	hash, _, err := canonical.SHA256Hex(content)
	if err != nil {
		return "", err
	}
	return hash, nil
}

// seal assigns identity, sequence, and hashes to a draft given the current
// head. Shared by every Log backend.
func seal(d Draft, seq int, prevHash string) (Entry, error) {
	e := Entry{
		EntryID:     "aud_" + uuid.NewString(),
		Seq:         seq,
		ExecutionID: d.ExecutionID,
		ActionType:  d.ActionType,
		Scope:       d.Scope,
		Status:      d.Status,
		ExecutedAt:  d.ExecutedAt,
		PrevHash:    prevHash,
	}
	if e.ExecutedAt == 0 {
		e.ExecutedAt = time.Now().UnixMilli()
	}
	hash, err := ComputeRecordHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.RecordHash = hash
	return e, nil
}

// Verify walks entries in order and reports the first broken link or
// recomputed-hash mismatch.
func Verify(entries []Entry) Report {
	prev := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			idx := i
			return Report{Valid: false, BrokenAt: &idx, Detail: "prevHash does not match predecessor"}
		}
		computed, err := ComputeRecordHash(e)
		if err != nil {
			idx := i
			return Report{Valid: false, BrokenAt: &idx, Detail: "entry is not hashable"}
		}
		if computed != e.RecordHash {
			idx := i
			return Report{Valid: false, BrokenAt: &idx, Detail: "recordHash does not match content"}
		}
		prev = e.RecordHash
	}
	return Report{Valid: true}
}
