package snapshot

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists snapshots durably. DELETE ... RETURNING makes the
// consume atomic: concurrent undos of the same execution see one row.
//
// Schema: see services/trust/schema.sql (trust_snapshots).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO trust_snapshots(execution_id, target_id, target_type, target_name, content, read_at)
VALUES($1,$2,$3,$4,$5,$6)
`, snap.ExecutionID, snap.Target.ID, snap.Target.Type, snap.Target.Name, snap.Content, snap.ReadAt.UTC())
	return err
}

func (s *PostgresStore) Take(ctx context.Context, executionID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRow(ctx, `
DELETE FROM trust_snapshots
WHERE execution_id=$1
RETURNING execution_id, target_id, target_type, target_name, content, read_at
`, executionID).Scan(&snap.ExecutionID, &snap.Target.ID, &snap.Target.Type, &snap.Target.Name, &snap.Content, &snap.ReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	return snap, nil
}
