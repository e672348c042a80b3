// Package model defines the data structures shared across the execution core.
// In Go, we use structs to represent our data; the `json:"..."` tags control how
// encoding/json names each field on the wire.
package model

import "time"

// Status is the lifecycle state of one execution session.
//
// STATE MACHINE:
//
//	Queued → Running → {Succeeded | RuntimeFailed | TimedOut | InfraFailed} → Reported
//
// Reported is terminal.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusRunning       Status = "running"
	StatusSucceeded     Status = "succeeded"
	StatusRuntimeFailed Status = "runtime_failed"
	StatusTimedOut      Status = "timed_out"
	StatusInfraFailed   Status = "infra_failed"
	StatusReported      Status = "reported"
)

// Outcome reports whether s is one of the four execution outcomes.
func (s Status) Outcome() bool {
	switch s {
	case StatusSucceeded, StatusRuntimeFailed, StatusTimedOut, StatusInfraFailed:
		return true
	}
	return false
}

// ExecutionRequest is a validated submission. It is never mutated after the
// gateway creates it.
type ExecutionRequest struct {
	Code       string
	Language   string
	ReceivedAt time.Time
}

// ExecutionResponse is the caller-facing result contract.
//
// Success is a pointer so input errors can omit it entirely: an input error
// means no execution was attempted, which is a different response class from
// "ran and failed" (success=false).
type ExecutionResponse struct {
	Success       *bool  `json:"success,omitempty"`
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ExecutionTime string `json:"executionTime,omitempty"`
}

// Bool returns a pointer to b, for ExecutionResponse.Success.
func Bool(b bool) *bool { return &b }

// Language is static catalogue metadata for GET /api/code/languages.
type Language struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	Version    string `json:"version"`
	Supported  bool   `json:"supported"`
	ComingSoon bool   `json:"comingSoon,omitempty"`
}

// ExecutionRecord is the server-side log entry written for every terminal
// outcome. The submitted code itself is not stored, only its digest and size.
type ExecutionRecord struct {
	ID          string `json:"id"`
	Language    string `json:"language"`
	Status      Status `json:"status"`
	CodeSHA256  string `json:"codeSha256"`
	CodeBytes   int    `json:"codeBytes"`
	OutputBytes int    `json:"outputBytes"`
	Truncated   bool   `json:"truncated"`
	// Detail is the raw failure message or infrastructure cause. It stays in
	// the log and is never serialized to callers.
	Detail    string        `json:"-"`
	Duration  time.Duration `json:"durationNs"`
	CreatedAt time.Time     `json:"createdAt"`
}
