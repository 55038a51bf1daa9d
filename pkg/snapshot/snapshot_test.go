package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
)

func TestMemoryStoreTakeConsumes(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	snap := Snapshot{
		ExecutionID: "exe_1",
		Target:      approval.Target{ID: "note_1", Type: "note"},
		Content:     "original body",
		ReadAt:      time.Now(),
	}
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := st.Take(ctx, "exe_1")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if got.Content != "original body" || got.Target.ID != "note_1" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	// Second take must fail the same way as a snapshot that never existed.
	if _, err := st.Take(ctx, "exe_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second take, got %v", err)
	}
	if _, err := st.Take(ctx, "exe_never"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}
