package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPhaseAllowsNotesOnly(t *testing.T) {
	g := NewGate(DefaultPhase())
	if !g.IsExecuteAllowed("core.notes") {
		t.Fatalf("core.notes should be allowed")
	}
	if g.IsExecuteAllowed("core.files") {
		t.Fatalf("core.files must be denied in phase 1")
	}
}

func TestCheckExecuteAccessReasons(t *testing.T) {
	g := NewGate(DefaultPhase())

	d := g.CheckExecuteAccess("brain.execute", "core.files", "FILE_DELETE")
	if d.Safe {
		t.Fatalf("expected denial for unlisted scope")
	}
	if !strings.Contains(d.Reason, "core.files") {
		t.Fatalf("reason should name the scope: %q", d.Reason)
	}

	d = g.CheckExecuteAccess("brain.execute", "core.notes", "NOTE_DELETE")
	if d.Safe {
		t.Fatalf("expected denial for unlisted action type")
	}
	if !strings.Contains(d.Reason, "NOTE_DELETE") {
		t.Fatalf("reason should name the action: %q", d.Reason)
	}

	d = g.CheckExecuteAccess("brain.execute", "core.notes", "NOTE_REWRITE")
	if !d.Safe {
		t.Fatalf("expected allow, got %q", d.Reason)
	}
}

func TestLoadPhase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phase.yaml")
	content := `name: phase-2-notes-files
rules:
  - scope: core.notes
    action_types: [NOTE_REWRITE, NOTE_APPEND]
  - scope: core.files
    action_types: [FILE_RENAME]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPhase(path)
	if err != nil {
		t.Fatalf("LoadPhase: %v", err)
	}
	g := NewGate(p)
	if !g.IsExecuteAllowed("core.files") {
		t.Fatalf("core.files should be allowed in phase 2")
	}
	if d := g.CheckExecuteAccess("brain.execute", "core.files", "FILE_DELETE"); d.Safe {
		t.Fatalf("FILE_DELETE should be denied")
	}
	want := []string{"core.files", "core.notes"}
	got := g.AllowedScopes()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("AllowedScopes = %v, want %v", got, want)
	}
}

func TestLoadPhaseRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(path, []byte("name: \"\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPhase(path); err == nil {
		t.Fatalf("expected error for empty phase")
	}
}
