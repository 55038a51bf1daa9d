package jobs

import (
	"errors"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/canonical"
	"github.com/gemimi2525-star/super-platform-sub010/pkg/signature"
)

var ErrResultSignature = errors.New("jobs: invalid result signature")

// Result statuses.
const (
	ResultSucceeded = "SUCCEEDED"
	ResultFailed    = "FAILED"
)

// JobMetrics carries execution performance data.
type JobMetrics struct {
	Attempts  int   `json:"attempts"`
	LatencyMs int64 `json:"latencyMs"`
}

// JobResult is the worker's signed report for one job. The HMAC covers a
// canonical subset (resultSignable); resultData itself is pinned through
// ResultHash rather than being signed wholesale.
type JobResult struct {
	JobID        string     `json:"jobId"`
	Status       string     `json:"status"`
	StartedAt    int64      `json:"startedAt"`
	FinishedAt   int64      `json:"finishedAt"`
	ResultHash   string     `json:"resultHash"`
	ResultData   any        `json:"resultData,omitempty"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Metrics      JobMetrics `json:"metrics"`
	TraceID      string     `json:"traceId"`
	WorkerID     string     `json:"workerId"`
	Signature    string     `json:"signature"`
}

type resultSignable struct {
	FinishedAt int64      `json:"finishedAt"`
	JobID      string     `json:"jobId"`
	Metrics    JobMetrics `json:"metrics"`
	ResultHash string     `json:"resultHash"`
	StartedAt  int64      `json:"startedAt"`
	Status     string     `json:"status"`
	TraceID    string     `json:"traceId"`
	WorkerID   string     `json:"workerId"`
}

func (r *JobResult) signableBytes() ([]byte, error) {
	return canonical.Transform(resultSignable{
		FinishedAt: r.FinishedAt,
		JobID:      r.JobID,
		Metrics:    r.Metrics,
		ResultHash: r.ResultHash,
		StartedAt:  r.StartedAt,
		Status:     r.Status,
		TraceID:    r.TraceID,
		WorkerID:   r.WorkerID,
	})
}

// Sign computes and attaches the HMAC-SHA256 signature over the canonical
// signable subset.
func (r *JobResult) Sign(secret string) error {
	b, err := r.signableBytes()
	if err != nil {
		return err
	}
	r.Signature = signature.SignHMAC(secret, b)
	return nil
}

// VerifySignature checks the result HMAC. Fails closed on empty signature.
func (r *JobResult) VerifySignature(secret string) error {
	b, err := r.signableBytes()
	if err != nil {
		return err
	}
	if !signature.VerifyHMAC(secret, b, r.Signature) {
		return ErrResultSignature
	}
	return nil
}

// ComputeResultHash pins arbitrary result data to a canonical SHA-256 hex.
func ComputeResultHash(data any) (string, error) {
	hash, _, err := canonical.SHA256Hex(data)
	return hash, err
}
