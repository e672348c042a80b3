package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/output"
)

// ErrIllegalTransition means a caller tried to move a session along an edge
// the state machine does not have. It is always a programming error.
var ErrIllegalTransition = errors.New("service: illegal session transition")

// Session is the per-request execution state. It is owned by the single
// goroutine serving the request and is never shared or reused.
//
// STATE MACHINE:
//
//	Queued → Running → {Succeeded | RuntimeFailed | TimedOut | InfraFailed} → Reported
type Session struct {
	ID       string
	Request  model.ExecutionRequest
	Deadline time.Time
	Output   *output.Collector

	StartedAt time.Time
	status    model.Status
}

// newSession creates a session for an admitted request. The deadline is fixed
// here and never moves.
func newSession(req model.ExecutionRequest, now time.Time, timeout time.Duration, maxOutput int) *Session {
	return &Session{
		ID:       xid.New().String(),
		Request:  req,
		Deadline: now.Add(timeout),
		Output:   output.NewCollector(maxOutput),
		status:   model.StatusQueued,
	}
}

// Status returns the current state.
func (s *Session) Status() model.Status {
	return s.status
}

// Advance moves the session to next if the state machine allows it.
func (s *Session) Advance(next model.Status) error {
	ok := false
	switch s.status {
	case model.StatusQueued:
		ok = next == model.StatusRunning
	case model.StatusRunning:
		ok = next.Outcome()
	case model.StatusSucceeded, model.StatusRuntimeFailed, model.StatusTimedOut, model.StatusInfraFailed:
		ok = next == model.StatusReported
	}
	if !ok {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, s.status, next)
	}
	s.status = next
	return nil
}
