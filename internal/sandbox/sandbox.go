// Package sandbox runs one untrusted JavaScript source text in isolation and
// classifies how it ended.
//
// ARCHITECTURE:
//
//	host process                               worker process (one-shot)
//	─────────────                              ─────────────────────────
//	Sandbox.Run ── Request (stdin) ──────────▶ ServeWorker
//	     ▲                                         │ wazero + QuickJS (WASI)
//	     │                                         │ no FS, no env, no network
//	     └─── Relay ◀──── JSON frames (stdout) ────┘
//	            │
//	            └─▶ output.Collector
//
// The host never trusts the worker to stop by itself: the backends in
// sandbox/process and sandbox/docker kill the whole execution unit when the
// deadline fires. Frames read before the kill stay in the collector.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/output"
)

// Sandbox executes a single source text until it finishes, throws, or the
// deadline passes. Implementations must be safe for concurrent use; every
// call gets its own execution unit.
type Sandbox interface {
	// Run blocks for at most roughly time.Until(deadline) plus teardown.
	// ctx carries request-scoped values only; it does not cancel a run.
	Run(ctx context.Context, code string, deadline time.Time, out *output.Collector) Outcome
	Close() error
}

// Outcome is the tagged result of one run.
//
//	Succeeded     → Value is the rendered trailing expression, if reported
//	RuntimeFailed → Message is the thrown error's description
//	TimedOut      → no payload
//	InfraFailed   → Cause is the environment failure (server-side only)
type Outcome struct {
	Status  model.Status
	Value   *string
	Message string
	Cause   error
}

func Succeeded(value *string) Outcome {
	return Outcome{Status: model.StatusSucceeded, Value: value}
}

func RuntimeFailed(message string) Outcome {
	return Outcome{Status: model.StatusRuntimeFailed, Message: message}
}

func TimedOut() Outcome {
	return Outcome{Status: model.StatusTimedOut}
}

func InfraFailed(cause error) Outcome {
	if cause == nil {
		cause = fmt.Errorf("sandbox: unknown infrastructure failure")
	}
	return Outcome{Status: model.StatusInfraFailed, Message: cause.Error(), Cause: cause}
}
