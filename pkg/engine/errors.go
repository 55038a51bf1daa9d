package engine

import "errors"

// Every rejection the engine produces wraps one of these sentinels, so the
// HTTP layer can map each class to the right status code without parsing
// messages. Messages are safe to log and return: no secret material.
var (
	ErrInvalidSignature  = errors.New("invalid approval signature")
	ErrExpired           = errors.New("approval expired")
	ErrNonceReplay       = errors.New("nonce already consumed")
	ErrScopeNotAllowed   = errors.New("scope not on the execution allow-list")
	ErrMalformedApproval = errors.New("malformed approval")
	ErrResourceRead      = errors.New("resource read failed")
	ErrApplyFailed       = errors.New("apply failed")
	ErrSnapshotNotFound  = errors.New("no snapshot for execution (never executed or already undone)")
	ErrExecutionNotFound = errors.New("execution record not found")
	ErrNotUndoable       = errors.New("execution is not in an undoable state")
	ErrKillSwitchActive  = errors.New("execution kill switch is active")
)
