// Package client talks to the trust service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gemimi2525-star/super-platform-sub010/pkg/jobs"
)

// JobEnvelope pairs a signed ticket with the raw payload it authorizes.
type JobEnvelope struct {
	Ticket  jobs.JobTicket `json:"ticket"`
	Payload string         `json:"payload"`
	Version string         `json:"version"`
}

// ResultPoster is the part of the API the worker needs to hand results back.
type ResultPoster interface {
	PostResult(ctx context.Context, result *jobs.JobResult) error
}

type API struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *API {
	return &API{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// PostResult delivers a signed JobResult to the trust service.
func (a *API) PostResult(ctx context.Context, result *jobs.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/jobs/result", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("result rejected (status %d): %s", resp.StatusCode, respBody)
	}
	return nil
}
