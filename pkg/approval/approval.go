// Package approval defines the signed authorization token a client produces
// after a human confirms an AI-proposed action, and its structural and
// cryptographic validation.
package approval

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/canonical"
)

var (
	ErrMissingField       = errors.New("approval: required field missing")
	ErrBadNonce           = errors.New("approval: nonce must be lowercase hex of at least 32 chars")
	ErrExpired            = errors.New("approval: expired")
	ErrFutureDated        = errors.New("approval: approvedAt is in the future")
	ErrSignedFields       = errors.New("approval: signedFields does not cover the required set")
	ErrMissingSignature   = errors.New("approval: signature missing")
	ErrInvalidEncoding    = errors.New("approval: invalid signature encoding")
	ErrInvalidSignature   = errors.New("approval: invalid ed25519 signature")
	ErrUnknownSignedField = errors.New("approval: signedFields names an unknown field")
)

// ApprovedAtTolerance bounds how far in the future approvedAt may sit before
// the token is rejected as implausible (clock skew allowance).
const ApprovedAtTolerance = 5 * time.Minute

const minNonceHexLen = 32

// ActionType enumerates the actions the engine knows how to execute.
type ActionType string

const (
	ActionNoteRewrite ActionType = "NOTE_REWRITE"
	ActionNoteAppend  ActionType = "NOTE_APPEND"
)

// Target references the resource an approval operates on.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Diff carries the proposed change plus its human-readable summary.
type Diff struct {
	Before  string `json:"before"`
	After   string `json:"after"`
	Summary string `json:"summary,omitempty"`
}

// RequiredSignedFields is the minimum ordered field set every signature must
// cover. signedFields may extend it but never omit from it.
var RequiredSignedFields = []string{
	"approvalId", "intentId", "actionType", "scope", "target",
	"diff", "approvedBy", "approvedAt", "expiresAt", "nonce",
}

// SignedApproval is consumed exactly once by the execution engine; the nonce
// ledger enforces single use. It is never mutated after creation.
type SignedApproval struct {
	ApprovalID   string     `json:"approvalId"`
	IntentID     string     `json:"intentId"`
	ActionType   ActionType `json:"actionType"`
	Scope        string     `json:"scope"`
	Target       Target     `json:"target"`
	Diff         Diff       `json:"diff"`
	ApprovedBy   string     `json:"approvedBy"`
	ApprovedAt   int64      `json:"approvedAt"`
	ExpiresAt    int64      `json:"expiresAt"`
	Nonce        string     `json:"nonce"`
	Signature    string     `json:"signature"`
	SignedFields []string   `json:"signedFields"`
}

func (a *SignedApproval) fieldValue(name string) (any, bool) {
	switch name {
	case "approvalId":
		return a.ApprovalID, true
	case "intentId":
		return a.IntentID, true
	case "actionType":
		return string(a.ActionType), true
	case "scope":
		return a.Scope, true
	case "target":
		return a.Target, true
	case "diff":
		return a.Diff, true
	case "approvedBy":
		return a.ApprovedBy, true
	case "approvedAt":
		return a.ApprovedAt, true
	case "expiresAt":
		return a.ExpiresAt, true
	case "nonce":
		return a.Nonce, true
	default:
		return nil, false
	}
}

// SignableBytes returns the canonical payload the signature covers: exactly
// the declared signedFields, in their declared order.
func (a *SignedApproval) SignableBytes() ([]byte, error) {
	if err := a.checkSignedFields(); err != nil {
		return nil, err
	}
	values := make(map[string]any, len(a.SignedFields))
	for _, f := range a.SignedFields {
		v, ok := a.fieldValue(f)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSignedField, f)
		}
		values[f] = v
	}
	return canonical.Marshal(values, a.SignedFields)
}

func (a *SignedApproval) checkSignedFields() error {
	declared := make(map[string]bool, len(a.SignedFields))
	for _, f := range a.SignedFields {
		declared[f] = true
	}
	for _, req := range RequiredSignedFields {
		if !declared[req] {
			return fmt.Errorf("%w: missing %q", ErrSignedFields, req)
		}
	}
	return nil
}

// Sign computes and attaches the Ed25519 signature over SignableBytes.
// Server-side code never signs; this exists for clients and test harnesses.
func (a *SignedApproval) Sign(priv ed25519.PrivateKey) error {
	payload, err := a.SignableBytes()
	if err != nil {
		return err
	}
	a.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload))
	return nil
}

// Verify checks the Ed25519 signature against pub. Missing or malformed
// signatures are rejections, never treated as unknown.
func (a *SignedApproval) Verify(pub ed25519.PublicKey) error {
	if a.Signature == "" {
		return ErrMissingSignature
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key size %d", ErrInvalidEncoding, len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidEncoding
	}
	payload, err := a.SignableBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Validate performs the structural checks that precede any side effect:
// required fields present, nonce well-formed, expiry and approvedAt
// plausible relative to now.
func (a *SignedApproval) Validate(now time.Time) error {
	switch {
	case a.ApprovalID == "":
		return fmt.Errorf("%w: approvalId", ErrMissingField)
	case a.IntentID == "":
		return fmt.Errorf("%w: intentId", ErrMissingField)
	case a.ActionType == "":
		return fmt.Errorf("%w: actionType", ErrMissingField)
	case a.Scope == "":
		return fmt.Errorf("%w: scope", ErrMissingField)
	case a.Target.ID == "":
		return fmt.Errorf("%w: target.id", ErrMissingField)
	case a.ApprovedBy == "":
		return fmt.Errorf("%w: approvedBy", ErrMissingField)
	case a.ApprovedAt == 0:
		return fmt.Errorf("%w: approvedAt", ErrMissingField)
	case a.ExpiresAt == 0:
		return fmt.Errorf("%w: expiresAt", ErrMissingField)
	}
	if !validNonce(a.Nonce) {
		return ErrBadNonce
	}
	if err := a.checkSignedFields(); err != nil {
		return err
	}
	nowMs := now.UnixMilli()
	if a.ExpiresAt <= nowMs {
		return fmt.Errorf("%w: expiresAt=%d now=%d", ErrExpired, a.ExpiresAt, nowMs)
	}
	if a.ApprovedAt > nowMs+ApprovedAtTolerance.Milliseconds() {
		return fmt.Errorf("%w: approvedAt=%d now=%d", ErrFutureDated, a.ApprovedAt, nowMs)
	}
	return nil
}

// validNonce accepts only lowercase hex with a minimum length; obviously
// malformed nonces are rejected before any ledger lookup.
func validNonce(n string) bool {
	if len(n) < minNonceHexLen {
		return false
	}
	for i := 0; i < len(n); i++ {
		c := n[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
