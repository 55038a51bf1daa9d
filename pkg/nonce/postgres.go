package nonce

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists consumed nonces durably. The insert-or-nothing
// upsert is the atomic check-and-set; no read-then-write window exists.
//
// Schema: see services/trust/schema.sql (trust_nonces).
type PostgresLedger struct {
	db *pgxpool.Pool
}

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Consume(ctx context.Context, nonce string, at time.Time) error {
	tag, err := l.db.Exec(ctx, `
INSERT INTO trust_nonces(nonce, consumed_at)
VALUES($1, $2)
ON CONFLICT (nonce) DO NOTHING
`, nonce, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReplay
	}
	return nil
}
