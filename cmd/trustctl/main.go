// trustctl is the operator CLI: generate approval keypairs, sign approval
// documents, and verify signed approvals offline.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/signature"
)

const usage = "usage: trustctl key generate | trustctl approval sign --approval <path> --key <b64-private-key> --out <path> | trustctl approval verify --approval <path> --pubkey <b64-public-key>"

func main() {
	if len(os.Args) < 3 {
		failSummary("", "", usage)
		os.Exit(2)
	}
	switch os.Args[1] + " " + os.Args[2] {
	case "key generate":
		runKeyGenerate()
	case "approval sign":
		runApprovalSign(os.Args[3:])
	case "approval verify":
		runApprovalVerify(os.Args[3:])
	default:
		failSummary("", "", usage)
		os.Exit(2)
	}
}

func runKeyGenerate() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		failSummary("", "", "key generation failed: "+err.Error())
		os.Exit(1)
	}
	fmt.Printf("{\"status\":\"PASS\",\"public_key\":%s,\"private_key\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(base64.StdEncoding.EncodeToString(pub)),
		jsonQuote(base64.StdEncoding.EncodeToString(priv)),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func runApprovalSign(args []string) {
	fs := flag.NewFlagSet("approval sign", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	approvalPath := fs.String("approval", "", "path to approval json")
	keyB64 := fs.String("key", "", "base64 Ed25519 private key")
	outPath := fs.String("out", "", "path to write the signed approval")
	if err := fs.Parse(args); err != nil {
		failSummary("", "", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*approvalPath) == "" || strings.TrimSpace(*keyB64) == "" || strings.TrimSpace(*outPath) == "" {
		failSummary("", "", "--approval, --key and --out are all required")
		os.Exit(2)
	}

	a, err := readApproval(*approvalPath)
	if err != nil {
		failSummary("", "", err.Error())
		os.Exit(1)
	}
	priv, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*keyB64))
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		failSummary(a.ApprovalID, a.Scope, "private key must be base64 of a 64-byte Ed25519 key")
		os.Exit(1)
	}

	if a.Nonce == "" {
		a.Nonce = newNonce()
	}
	if len(a.SignedFields) == 0 {
		a.SignedFields = approval.RequiredSignedFields
	}
	if err := a.Sign(ed25519.PrivateKey(priv)); err != nil {
		failSummary(a.ApprovalID, a.Scope, "signing failed: "+err.Error())
		os.Exit(1)
	}

	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		failSummary(a.ApprovalID, a.Scope, err.Error())
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, append(out, '\n'), 0o644); err != nil {
		failSummary(a.ApprovalID, a.Scope, "write failed: "+err.Error())
		os.Exit(1)
	}
	passSummary(a.ApprovalID, a.Scope)
}

func runApprovalVerify(args []string) {
	fs := flag.NewFlagSet("approval verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	approvalPath := fs.String("approval", "", "path to signed approval json")
	pubB64 := fs.String("pubkey", "", "base64 Ed25519 public key")
	if err := fs.Parse(args); err != nil {
		failSummary("", "", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*approvalPath) == "" || strings.TrimSpace(*pubB64) == "" {
		failSummary("", "", "both --approval and --pubkey are required")
		os.Exit(2)
	}

	a, err := readApproval(*approvalPath)
	if err != nil {
		failSummary("", "", err.Error())
		os.Exit(1)
	}
	pub, err := signature.DecodePublicKey(strings.TrimSpace(*pubB64))
	if err != nil {
		failSummary(a.ApprovalID, a.Scope, err.Error())
		os.Exit(1)
	}

	if err := a.Validate(time.Now().UTC()); err != nil {
		failSummary(a.ApprovalID, a.Scope, "validation failed: "+err.Error())
		os.Exit(1)
	}
	if err := a.Verify(pub); err != nil {
		failSummary(a.ApprovalID, a.Scope, "signature verification failed: "+err.Error())
		os.Exit(1)
	}
	passSummary(a.ApprovalID, a.Scope)
}

func readApproval(path string) (*approval.SignedApproval, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read approval failed: %w", err)
	}
	var a approval.SignedApproval
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse approval failed: %w", err)
	}
	return &a, nil
}

func newNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func passSummary(approvalID, scope string) {
	fmt.Printf("{\"status\":\"PASS\",\"approval_id\":%s,\"scope\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(approvalID),
		jsonQuote(scope),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func failSummary(approvalID, scope, reason string) {
	fmt.Printf("{\"status\":\"FAIL\",\"approval_id\":%s,\"scope\":%s,\"reason\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(approvalID),
		jsonQuote(scope),
		jsonQuote(reason),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func jsonQuote(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
