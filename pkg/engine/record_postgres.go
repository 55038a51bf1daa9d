package engine

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
)

// PostgresRecordStore persists execution records durably.
//
// Schema: see services/trust/schema.sql (trust_executions).
type PostgresRecordStore struct {
	db *pgxpool.Pool
}

func NewPostgresRecordStore(db *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Save(ctx context.Context, rec ExecutionRecord) error {
	var undoExecutionID, undoTargetID, undoTargetType *string
	if rec.UndoPlan != nil {
		undoExecutionID = &rec.UndoPlan.ExecutionID
		undoTargetID = &rec.UndoPlan.Target.ID
		undoTargetType = &rec.UndoPlan.Target.Type
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO trust_executions(
  execution_id, approval_id, intent_id, action_type, scope,
  target_id, target_type, target_name, status, snapshot_ref,
  undo_execution_id, undo_target_id, undo_target_type,
  started_at, finished_at, duration_ms, error
) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`, rec.ExecutionID, rec.ApprovalID, rec.IntentID, string(rec.ActionType), rec.Scope,
		rec.Target.ID, rec.Target.Type, rec.Target.Name, string(rec.Status), nullable(rec.SnapshotRef),
		undoExecutionID, undoTargetID, undoTargetType,
		rec.StartedAt, rec.FinishedAt, rec.DurationMs, nullable(rec.Error))
	return err
}

func (s *PostgresRecordStore) Get(ctx context.Context, executionID string) (ExecutionRecord, error) {
	rec, err := s.scanOne(s.db.QueryRow(ctx, selectExecution+` WHERE execution_id=$1`, executionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExecutionRecord{}, ErrExecutionNotFound
		}
		return ExecutionRecord{}, err
	}
	return rec, nil
}

func (s *PostgresRecordStore) MarkUndone(ctx context.Context, executionID string, finishedAt int64) (ExecutionRecord, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE trust_executions
SET status=$1, undo_execution_id=NULL, undo_target_id=NULL, undo_target_type=NULL, finished_at=$2
WHERE execution_id=$3 AND status=$4
`, string(StatusUndone), finishedAt, executionID, string(StatusCompleted))
	if err != nil {
		return ExecutionRecord{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, executionID); err != nil {
			return ExecutionRecord{}, err
		}
		return ExecutionRecord{}, ErrNotUndoable
	}
	return s.Get(ctx, executionID)
}

const selectExecution = `
SELECT execution_id, approval_id, intent_id, action_type, scope,
       target_id, target_type, target_name, status, snapshot_ref,
       undo_execution_id, undo_target_id, undo_target_type,
       started_at, finished_at, duration_ms, error
FROM trust_executions`

func (s *PostgresRecordStore) scanOne(row pgx.Row) (ExecutionRecord, error) {
	var rec ExecutionRecord
	var actionType, status string
	var snapshotRef, errMsg, undoExecutionID, undoTargetID, undoTargetType *string
	if err := row.Scan(&rec.ExecutionID, &rec.ApprovalID, &rec.IntentID, &actionType, &rec.Scope,
		&rec.Target.ID, &rec.Target.Type, &rec.Target.Name, &status, &snapshotRef,
		&undoExecutionID, &undoTargetID, &undoTargetType,
		&rec.StartedAt, &rec.FinishedAt, &rec.DurationMs, &errMsg); err != nil {
		return ExecutionRecord{}, err
	}
	rec.ActionType = approval.ActionType(actionType)
	rec.Status = Status(status)
	if snapshotRef != nil {
		rec.SnapshotRef = *snapshotRef
	}
	if errMsg != nil {
		rec.Error = *errMsg
	}
	if undoExecutionID != nil {
		rec.UndoPlan = &UndoPlan{ExecutionID: *undoExecutionID}
		if undoTargetID != nil {
			rec.UndoPlan.Target.ID = *undoTargetID
		}
		if undoTargetType != nil {
			rec.UndoPlan.Target.Type = *undoTargetType
		}
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
