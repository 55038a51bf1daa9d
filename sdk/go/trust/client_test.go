package trust

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/jobs"
)

func TestExecuteDecodesExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/trust/executions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Approval approval.SignedApproval `json:"approval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Approval.ApprovalID != "apr_1" {
			t.Errorf("approvalId = %s", req.Approval.ApprovalID)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req_x",
			"execution": map[string]any{
				"executionId": "exe_1",
				"approvalId":  "apr_1",
				"status":      "COMPLETED",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	exec, err := c.Execute(context.Background(), approval.SignedApproval{ApprovalID: "apr_1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.ExecutionID != "exe_1" || exec.Status != "COMPLETED" {
		t.Fatalf("unexpected execution: %+v", exec)
	}
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(409)
		json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req_y",
			"error":      map[string]any{"code": "NONCE_REPLAY", "message": "nonce already used"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Execute(context.Background(), approval.SignedApproval{})
	var sdkErr *Error
	if !errors.As(err, &sdkErr) {
		t.Fatalf("want *Error, got %T: %v", err, err)
	}
	if sdkErr.StatusCode != 409 || sdkErr.ErrorCode != "NONCE_REPLAY" || sdkErr.RequestID != "req_y" {
		t.Fatalf("unexpected error: %+v", sdkErr)
	}
}

func TestExecuteIsNeverRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(503)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	if _, err := c.Execute(context.Background(), approval.SignedApproval{}); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("execute was sent %d times, want 1", n)
	}
}

func TestAuditVerifyRetriesOn503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(503)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req_z",
			"report":     map[string]any{"valid": true},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	report, err := c.VerifyAudit(context.Background())
	if err != nil {
		t.Fatalf("VerifyAudit: %v", err)
	}
	if !report.Valid {
		t.Fatal("report.Valid = false")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestPostJobResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/result" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(202)
		json.NewEncoder(w).Encode(map[string]any{"accepted": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.PostJobResult(context.Background(), &jobs.JobResult{JobID: "job_1", Status: jobs.ResultSucceeded})
	if err != nil {
		t.Fatalf("PostJobResult: %v", err)
	}
}
