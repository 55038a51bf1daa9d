// Package notes is the concrete resource store behind the core.notes scope.
// Both backends satisfy the engine's ResourceAccessor capability: the route
// hands one to the engine per request, and the engine never sees storage
// beyond Read and Apply.
package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
)

var ErrNotFound = errors.New("notes: note not found")

// MemoryStore is the development/test backend.
type MemoryStore struct {
	mu    sync.Mutex
	notes map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notes: make(map[string]string)}
}

// Seed inserts a note directly, bypassing the trust pipeline. Tests and
// development fixtures only.
func (s *MemoryStore) Seed(noteID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[noteID] = content
}

func (s *MemoryStore) Read(_ context.Context, target approval.Target) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.notes[target.ID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, target.ID)
	}
	return content, nil
}

func (s *MemoryStore) Apply(_ context.Context, target approval.Target, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[target.ID] = content
	return nil
}

// PostgresStore is the durable backend.
//
// Schema: see services/trust/schema.sql (trust_notes).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Read(ctx context.Context, target approval.Target) (string, error) {
	var content string
	err := s.db.QueryRow(ctx, `SELECT content FROM trust_notes WHERE note_id=$1`, target.ID).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, target.ID)
		}
		return "", err
	}
	return content, nil
}

func (s *PostgresStore) Apply(ctx context.Context, target approval.Target, content string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO trust_notes(note_id, content, updated_at)
VALUES($1, $2, now())
ON CONFLICT (note_id) DO UPDATE SET content=EXCLUDED.content, updated_at=now()
`, target.ID, content)
	return err
}
