// Package trust is the Go client for the trust service HTTP API.
package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/approval"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/jobs"
)

const APIVersion = "v1"

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Error is the decoded trust service error envelope.
type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("trust sdk error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.Message)
}

// Execution mirrors the service's execution record on the wire.
type Execution struct {
	ExecutionID string          `json:"executionId"`
	ApprovalID  string          `json:"approvalId"`
	IntentID    string          `json:"intentId"`
	ActionType  string          `json:"actionType"`
	Scope       string          `json:"scope"`
	Target      approval.Target `json:"target"`
	Status      string          `json:"status"`
	SnapshotRef string          `json:"snapshotRef,omitempty"`
	StartedAt   int64           `json:"startedAt"`
	FinishedAt  int64           `json:"finishedAt"`
	DurationMs  int64           `json:"durationMs"`
	Error       string          `json:"error,omitempty"`
}

// AuditEntry mirrors one hash-chained audit record.
type AuditEntry struct {
	EntryID     string `json:"entryId"`
	Seq         int    `json:"seq"`
	ExecutionID string `json:"executionId"`
	ActionType  string `json:"actionType"`
	Scope       string `json:"scope"`
	Status      string `json:"status"`
	ExecutedAt  int64  `json:"executedAt"`
	PrevHash    string `json:"prevHash"`
	RecordHash  string `json:"recordHash"`
}

// AuditReport is the result of a full chain verification.
type AuditReport struct {
	Valid    bool   `json:"valid"`
	BrokenAt *int   `json:"brokenAt,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

// Execute submits a signed approval. Never retried: the approval's nonce is
// consumed server-side, so a blind retry after an ambiguous failure would
// only ever come back as a replay conflict.
func (c *Client) Execute(ctx context.Context, a approval.SignedApproval) (*Execution, error) {
	payload, err := c.do(ctx, http.MethodPost, "/trust/executions", map[string]any{"approval": a}, false)
	if err != nil {
		return nil, err
	}
	return decodeExecution(payload)
}

// Undo reverses a completed execution. Not retried either: the second
// delivery of a duplicate undo is a conflict, not a success.
func (c *Client) Undo(ctx context.Context, executionID string) (*Execution, error) {
	path := "/trust/executions/" + url.PathEscape(executionID) + "/undo"
	payload, err := c.do(ctx, http.MethodPost, path, nil, false)
	if err != nil {
		return nil, err
	}
	return decodeExecution(payload)
}

// AuditEntries fetches the full audit chain.
func (c *Client) AuditEntries(ctx context.Context) ([]AuditEntry, error) {
	payload, err := c.do(ctx, http.MethodGet, "/trust/audit", nil, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := reparse(payload, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// VerifyAudit asks the service to walk its own hash chain.
func (c *Client) VerifyAudit(ctx context.Context) (*AuditReport, error) {
	payload, err := c.do(ctx, http.MethodGet, "/trust/audit/verify", nil, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		Report AuditReport `json:"report"`
	}
	if err := reparse(payload, &out); err != nil {
		return nil, err
	}
	return &out.Report, nil
}

// PostJobResult delivers a signed worker result. Not retried: a duplicate
// jobId inside the replay window is rejected with a conflict.
func (c *Client) PostJobResult(ctx context.Context, result *jobs.JobResult) error {
	_, err := c.do(ctx, http.MethodPost, "/jobs/result", result, false)
	return err
}

func decodeExecution(payload map[string]any) (*Execution, error) {
	var out struct {
		Execution Execution `json:"execution"`
	}
	if err := reparse(payload, &out); err != nil {
		return nil, err
	}
	if out.Execution.ExecutionID == "" {
		return nil, errors.New("response is missing execution")
	}
	return &out.Execution, nil
}

// reparse round-trips a decoded envelope into a typed struct.
func reparse(payload map[string]any, dst any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func (c *Client) do(ctx context.Context, method, path string, body any, retryable bool) (map[string]any, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "trust-go-sdk/0.1.0 (api:"+APIVersion+")")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return nil, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if len(respBody) == 0 {
				return map[string]any{}, nil
			}
			var obj map[string]any
			if err := json.Unmarshal(respBody, &obj); err != nil {
				return nil, err
			}
			return obj, nil
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return nil, parseError(resp.StatusCode, respBody)
	}
	return nil, errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	d := cfg.BaseDelay << (attempt - 1)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	time.Sleep(d)
}

func parseError(status int, body []byte) *Error {
	out := &Error{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var envelope struct {
		RequestID string `json:"request_id"`
		Err       struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Err.Code != "" {
		out.ErrorCode = envelope.Err.Code
		out.Message = envelope.Err.Message
		out.RequestID = envelope.RequestID
	}
	return out
}
