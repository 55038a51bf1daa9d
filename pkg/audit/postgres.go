package audit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog persists the chain durably. Appends run in a transaction that
// locks the head row, so concurrent appends serialize and no two entries
// can chain to the same predecessor.
//
// Schema: see services/trust/schema.sql (trust_audit_entries).
type PostgresLog struct {
	db *pgxpool.Pool
}

func NewPostgresLog(db *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, d Draft) (Entry, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx)

	seq := 1
	prev := GenesisHash
	err = tx.QueryRow(ctx, `
SELECT seq, record_hash FROM trust_audit_entries
ORDER BY seq DESC LIMIT 1
FOR UPDATE
`).Scan(&seq, &prev)
	if err == nil {
		seq++
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, err
	} else {
		seq = 1
		prev = GenesisHash
	}

	e, err := seal(d, seq, prev)
	if err != nil {
		return Entry{}, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO trust_audit_entries(entry_id, seq, execution_id, action_type, scope, status, executed_at, prev_hash, record_hash)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, e.EntryID, e.Seq, e.ExecutionID, e.ActionType, e.Scope, e.Status, e.ExecutedAt, e.PrevHash, e.RecordHash); err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (l *PostgresLog) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.Query(ctx, `
SELECT entry_id, seq, execution_id, action_type, scope, status, executed_at, prev_hash, record_hash
FROM trust_audit_entries
ORDER BY seq ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.Seq, &e.ExecutionID, &e.ActionType, &e.Scope, &e.Status, &e.ExecutedAt, &e.PrevHash, &e.RecordHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *PostgresLog) VerifyChain(ctx context.Context) (Report, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return Report{}, err
	}
	return Verify(entries), nil
}
