// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Env holds the configuration values for the guest lookup service.
type Env struct {
	Region              string
	CollaboratorBaseURL string
	CollaboratorTimeout time.Duration

	SessionsTable    string
	IdempotencyTable string
	ActionsTable     string
	ActionsQueueURL  string
	MetricsNamespace string

	ResendCooldown    time.Duration
	MaxVerifyAttempts int
	SessionTTL        time.Duration
	IdempotencyTTL    time.Duration

	RunLocal bool
}

// MustLoad reads the environment variables and returns an Env struct.
// It panics when a required variable is missing or a numeric one is malformed.
func MustLoad() Env {
	return Env{
		Region:              get("AWS_REGION", "us-east-1"),
		CollaboratorBaseURL: must("COLLABORATOR_BASE_URL"),
		CollaboratorTimeout: time.Duration(mustInt("COLLABORATOR_TIMEOUT_SECONDS", 10)) * time.Second,
		SessionsTable:       get("SESSIONS_TABLE", "guest-lookup-sessions"),
		IdempotencyTable:    get("IDEMPOTENCY_TABLE", "guest-lookup-idempotency"),
		ActionsTable:        get("ACTIONS_TABLE", "guest-lookup-actions"),
		ActionsQueueURL:     must("ACTIONS_QUEUE_URL"),
		MetricsNamespace:    get("METRICS_NAMESPACE", "GuestLookup"),
		ResendCooldown:      time.Duration(mustInt("RESEND_COOLDOWN_SECONDS", 180)) * time.Second,
		MaxVerifyAttempts:   mustInt("MAX_VERIFY_ATTEMPTS", 5),
		SessionTTL:          time.Duration(mustInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		IdempotencyTTL:      time.Duration(mustInt("IDEMPOTENCY_TTL_HOURS", 48)) * time.Hour,
		RunLocal:            get("RUN_LOCAL", "") == "true",
	}
}

// MustLoadWorker reads the subset of variables the SQS worker needs.
func MustLoadWorker() Env {
	return Env{
		Region:           get("AWS_REGION", "us-east-1"),
		ActionsTable:     get("ACTIONS_TABLE", "guest-lookup-actions"),
		MetricsNamespace: get("METRICS_NAMESPACE", "GuestLookup"),
		RunLocal:         get("RUN_LOCAL", "") == "true",
	}
}

// get returns the value of the environment variable k or def if not set.
func get(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// must returns the value of the environment variable k or panics if not set.
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic(fmt.Errorf("missing env %s", k))
	}
	return v
}

// mustInt parses k as a positive integer, using def when unset.
func mustInt(k string, def int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		panic(fmt.Errorf("invalid env %s=%q: want positive integer", k, raw))
	}
	return n
}
