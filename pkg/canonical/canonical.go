// Package canonical produces the deterministic JSON serializations the trust
// engine signs and hashes. Signer and verifier must agree byte-for-byte, so
// all hashing in this repository goes through this package.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

var ErrMissingField = errors.New("canonical: field missing from values")

// Marshal serializes exactly the named fields, in the order given, as a JSON
// object with RFC 8785 canonical values and no extraneous whitespace. The
// field list is part of the signing contract: a field named but absent from
// values is an error, never silently skipped.
func Marshal(values map[string]any, fields []string) ([]byte, error) {
	out := make([]byte, 0, 256)
	out = append(out, '{')
	for i, f := range fields {
		v, ok := values[f]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingField, f)
		}
		if i > 0 {
			out = append(out, ',')
		}
		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		val, err := Transform(v)
		if err != nil {
			return nil, fmt.Errorf("canonical: field %q: %w", f, err)
		}
		out = append(out, key...)
		out = append(out, ':')
		out = append(out, val...)
	}
	out = append(out, '}')
	return out, nil
}

// Transform returns the RFC 8785 canonical JSON encoding of v.
func Transform(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(b)
}

// SHA256Hex hashes the canonical JSON encoding of v with SHA-256 and returns
// the lowercase hex digest alongside the canonical bytes.
func SHA256Hex(v any) (string, []byte, error) {
	b, err := Transform(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

// HashBytes computes the SHA-256 hex digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
