// Package jobs defines the signed contracts of the background job pipeline:
// an Ed25519-signed JobTicket authorizing a worker to run one job, and the
// HMAC-SHA256-signed JobResult the worker posts back. Both sides sign a
// canonical subset of fields, so verification is reproducible regardless of
// JSON key order on the wire.
package jobs

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/canonical"
)

var (
	ErrTicketSignature = errors.New("jobs: invalid ticket signature")
	ErrTicketEncoding  = errors.New("jobs: invalid ticket encoding")
	ErrTicketExpired   = errors.New("jobs: ticket expired")
	ErrPayloadMismatch = errors.New("jobs: payload hash mismatch")
)

// JobTicket authorizes one job execution. The policy decision that produced
// it is referenced, never re-evaluated by the worker.
type JobTicket struct {
	JobID            string   `json:"jobId"`
	JobType          string   `json:"jobType"`
	ActorID          string   `json:"actorId"`
	Scope            []string `json:"scope"`
	PolicyDecisionID string   `json:"policyDecisionId"`
	RequestedAt      int64    `json:"requestedAt"`
	ExpiresAt        int64    `json:"expiresAt"`
	PayloadHash      string   `json:"payloadHash"`
	Nonce            string   `json:"nonce"`
	TraceID          string   `json:"traceId"`
	Signature        string   `json:"signature"`
}

// ticketSignable is the canonical field set the ticket signature covers.
// Keys sort alphabetically under canonical JSON.
type ticketSignable struct {
	ActorID          string   `json:"actorId"`
	ExpiresAt        int64    `json:"expiresAt"`
	JobID            string   `json:"jobId"`
	JobType          string   `json:"jobType"`
	Nonce            string   `json:"nonce"`
	PayloadHash      string   `json:"payloadHash"`
	PolicyDecisionID string   `json:"policyDecisionId"`
	RequestedAt      int64    `json:"requestedAt"`
	Scope            []string `json:"scope"`
	TraceID          string   `json:"traceId"`
}

// SignableBytes returns the canonical JSON the ticket signature covers.
func (t *JobTicket) SignableBytes() ([]byte, error) {
	return canonical.Transform(ticketSignable{
		ActorID:          t.ActorID,
		ExpiresAt:        t.ExpiresAt,
		JobID:            t.JobID,
		JobType:          t.JobType,
		Nonce:            t.Nonce,
		PayloadHash:      t.PayloadHash,
		PolicyDecisionID: t.PolicyDecisionID,
		RequestedAt:      t.RequestedAt,
		Scope:            t.Scope,
		TraceID:          t.TraceID,
	})
}

// Sign attaches an Ed25519 signature. Issuer/test-harness side.
func (t *JobTicket) Sign(priv ed25519.PrivateKey) error {
	payload, err := t.SignableBytes()
	if err != nil {
		return err
	}
	t.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload))
	return nil
}

// VerifySignature checks the ticket's Ed25519 signature against pub.
func (t *JobTicket) VerifySignature(pub []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key size %d", ErrTicketEncoding, len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(t.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrTicketEncoding
	}
	payload, err := t.SignableBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return ErrTicketSignature
	}
	return nil
}

// ValidateExpiry rejects tickets whose window has closed.
func (t *JobTicket) ValidateExpiry(now time.Time) error {
	if t.ExpiresAt <= now.UnixMilli() {
		return fmt.Errorf("%w: expiresAt=%d now=%d", ErrTicketExpired, t.ExpiresAt, now.UnixMilli())
	}
	return nil
}

// ValidatePayloadHash confirms the payload the worker received is the one
// the ticket authorized.
func (t *JobTicket) ValidatePayloadHash(payload string) error {
	computed := canonical.HashBytes([]byte(payload))
	if t.PayloadHash != computed {
		return fmt.Errorf("%w: expected %s got %s", ErrPayloadMismatch, computed, t.PayloadHash)
	}
	return nil
}
