// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// APIURL is the trust service base URL results are posted to.
	APIURL string

	// HMACSecret signs job results.
	HMACSecret string

	// PublicKeyBase64 is the Ed25519 key job tickets are verified against.
	PublicKeyBase64 string

	WorkerID     string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	apiURL := os.Getenv("TRUST_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("TRUST_API_URL is required")
	}
	hmacSecret := os.Getenv("JOB_RESULT_HMAC_SECRET")
	if hmacSecret == "" {
		return nil, fmt.Errorf("JOB_RESULT_HMAC_SECRET is required")
	}
	publicKey := os.Getenv("JOB_TICKET_PUBLIC_KEY")
	if publicKey == "" {
		return nil, fmt.Errorf("JOB_TICKET_PUBLIC_KEY is required (base64 Ed25519 public key)")
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())
	}

	pollSec, _ := strconv.Atoi(os.Getenv("POLL_INTERVAL_SECONDS"))
	if pollSec <= 0 {
		pollSec = 5
	}
	timeoutSec, _ := strconv.Atoi(os.Getenv("HTTP_TIMEOUT_SECONDS"))
	if timeoutSec <= 0 {
		timeoutSec = 30
	}

	return &Config{
		APIURL:          apiURL,
		HMACSecret:      hmacSecret,
		PublicKeyBase64: publicKey,
		WorkerID:        workerID,
		PollInterval:    time.Duration(pollSec) * time.Second,
		HTTPTimeout:     time.Duration(timeoutSec) * time.Second,
	}, nil
}
