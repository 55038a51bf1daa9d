// Package httpx shapes the trust service's JSON surface. Every response
// carries a request id, every error carries a stable machine-readable code,
// and request bodies are decoded strictly under a size cap so an oversized or
// mistyped payload is rejected instead of silently truncated.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/engine"
)

// maxBodyBytes caps request bodies. Approvals and job results are small;
// anything near this limit is not a legitimate payload.
const maxBodyBytes = 1 << 20

// Stable error codes shared with the SDK. Handlers use these for conditions
// they detect themselves; engine rejections are mapped by WriteEngineError.
const (
	CodeBadJSON          = "BAD_JSON"
	CodeKillSwitchActive = "KILL_SWITCH_ACTIVE"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorBody is the machine-readable part of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope every non-2xx response uses.
type ErrorResponse struct {
	RequestID string    `json:"request_id"`
	Error     ErrorBody `json:"error"`
}

// RequestID echoes the caller's X-Request-Id when present so clients can
// correlate, and mints a fresh id otherwise.
func RequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteResult writes a success envelope with the request id folded in.
func WriteResult(w http.ResponseWriter, r *http.Request, status int, payload map[string]any) {
	payload["request_id"] = RequestID(r)
	WriteJSON(w, status, payload)
}

// ReadJSON decodes a request body strictly: unknown fields are an error, so
// a client typo never silently drops a field from a signed payload.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		RequestID: RequestID(r),
		Error:     ErrorBody{Code: code, Message: message},
	})
}

// WriteEngineError maps an engine rejection to its HTTP status and stable
// error code. Unknown errors are internal.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := engineStatus(err)
	WriteError(w, r, status, code, err.Error())
}

func engineStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrMalformedApproval):
		return 400, "MALFORMED_APPROVAL"
	case errors.Is(err, engine.ErrExpired):
		return 401, "APPROVAL_EXPIRED"
	case errors.Is(err, engine.ErrInvalidSignature):
		return 401, "INVALID_SIGNATURE"
	case errors.Is(err, engine.ErrScopeNotAllowed):
		return 403, "SCOPE_NOT_ALLOWED"
	case errors.Is(err, engine.ErrNonceReplay):
		return 409, "NONCE_REPLAY"
	case errors.Is(err, engine.ErrSnapshotNotFound):
		return 404, "SNAPSHOT_NOT_FOUND"
	case errors.Is(err, engine.ErrExecutionNotFound):
		return 404, "EXECUTION_NOT_FOUND"
	case errors.Is(err, engine.ErrNotUndoable):
		return 409, "NOT_UNDOABLE"
	case errors.Is(err, engine.ErrResourceRead), errors.Is(err, engine.ErrApplyFailed):
		return 500, "EXECUTION_ERROR"
	default:
		return 500, CodeInternal
	}
}
