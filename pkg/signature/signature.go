// Package signature holds the low-level verifiers for the trust engine:
// Ed25519 over canonical approval payloads, and HMAC-SHA256 for the worker
// result pipeline. Everything fails closed: a missing, malformed, or
// mismatching signature is a rejection, never an "unknown".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
)

var (
	ErrFatalMisconfiguration = errors.New("signature: unsigned-approval bypass enabled in production")
	ErrUnknownMode           = errors.New("signature: unknown runtime mode")
	ErrNoPublicKey           = errors.New("signature: approval public key not configured")
)

// Mode is the runtime environment the process was started in. It is decided
// once at boot and injected; the verifier refuses to construct in an unsafe
// combination rather than refusing per request.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// ParseMode maps an environment string to a Mode, defaulting empty input to
// development.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Options configure a Verifier.
type Options struct {
	// ApprovalPublicKey is the raw Ed25519 public key approvals are checked
	// against.
	ApprovalPublicKey []byte

	// AllowUnsigned skips signature verification for approvals with an empty
	// signature. Development only.
	AllowUnsigned bool
}

// Verifier validates approval signatures under a fixed runtime mode.
type Verifier struct {
	mode          Mode
	allowUnsigned bool
	approvalKey   []byte
}

// NewVerifier constructs a Verifier. Production combined with AllowUnsigned
// is a fatal misconfiguration: the process must not come up at all.
func NewVerifier(mode Mode, opts Options) (*Verifier, error) {
	if mode != ModeProduction && mode != ModeDevelopment {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if mode == ModeProduction && opts.AllowUnsigned {
		return nil, ErrFatalMisconfiguration
	}
	return &Verifier{
		mode:          mode,
		allowUnsigned: opts.AllowUnsigned,
		approvalKey:   opts.ApprovalPublicKey,
	}, nil
}

// Mode reports the runtime mode the verifier was constructed with.
func (v *Verifier) Mode() Mode { return v.mode }

// VerifyApproval checks the approval's Ed25519 signature. The development
// bypass applies only to an entirely absent signature; a present-but-wrong
// signature is rejected in every mode.
func (v *Verifier) VerifyApproval(a *approval.SignedApproval) error {
	if a.Signature == "" && v.allowUnsigned && v.mode == ModeDevelopment {
		return nil
	}
	if len(v.approvalKey) == 0 {
		return ErrNoPublicKey
	}
	return a.Verify(v.approvalKey)
}

// DecodePublicKey parses a base64 (std encoding) Ed25519 public key.
func DecodePublicKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("signature: decode public key: %w", err)
	}
	return key, nil
}

// SignHMAC computes hex(HMAC-SHA256(secret, body)).
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a hex HMAC-SHA256 signature in constant time. An empty
// secret or signature always fails.
func VerifyHMAC(secret string, body []byte, sigHex string) bool {
	sig := strings.TrimSpace(sigHex)
	if sig == "" || secret == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
