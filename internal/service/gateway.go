// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, admits, orchestrates a sandbox run
//	Sandbox / Repository     → executes code / persists the execution log
//
// The Gateway takes a sandbox.Sandbox and a repository.ExecutionRepository
// (interfaces), not a process pool or a *sqlite.DB, so tests inject fakes and
// main.go picks the backends.
//
// ADMISSION:
// The weighted semaphore in Gateway is the only serialization point between
// sessions. A slot is acquired before a session exists and released on every
// exit path, including a forced kill at the deadline.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/metrics"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/repository"
	"github.com/sakif/amstig/internal/result"
	"github.com/sakif/amstig/internal/sandbox"
)

// Validation constants.
const (
	MaxCodeLength      = 100000 // ~100KB of code
	InvalidCodeMessage = "Invalid code provided"
	maxDetailLength    = 4096
	recordTimeout      = 5 * time.Second
)

// AdmissionPolicy decides what happens when every slot is busy.
type AdmissionPolicy string

const (
	// AdmissionQueue waits for a slot, bounded in count and time.
	AdmissionQueue AdmissionPolicy = "queue"
	// AdmissionReject fails immediately.
	AdmissionReject AdmissionPolicy = "reject"
)

// GatewayConfig holds the admission and execution limits.
type GatewayConfig struct {
	PoolSize       int
	Admission      AdmissionPolicy
	QueueLimit     int
	QueueTimeout   time.Duration
	Timeout        time.Duration
	MaxOutputBytes int
}

// DefaultGatewayConfig matches the documented environment defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		PoolSize:       4,
		Admission:      AdmissionQueue,
		QueueLimit:     16,
		QueueTimeout:   2 * time.Second,
		Timeout:        5 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

// Submission is the raw caller input. Fields are untyped because the caller
// may send anything; Execute validates them.
type Submission struct {
	Code     any
	Language any
}

// Gateway validates submissions, applies admission control and runs one
// sandbox session per admitted request.
type Gateway struct {
	sandbox   sandbox.Sandbox
	formatter *result.Formatter
	repo      repository.ExecutionRepository
	logger    *slog.Logger
	config    GatewayConfig

	slots   *semaphore.Weighted
	waiting atomic.Int64
	live    atomic.Int64
	now     func() time.Time
}

// NewGateway creates a Gateway. repo may be nil, in which case nothing is
// persisted.
func NewGateway(sb sandbox.Sandbox, formatter *result.Formatter, repo repository.ExecutionRepository, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.Admission == "" {
		cfg.Admission = AdmissionQueue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Gateway{
		sandbox:   sb,
		formatter: formatter,
		repo:      repo,
		logger:    logger,
		config:    cfg,
		slots:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		now:       time.Now,
	}
}

// Live returns the number of sessions currently holding a slot.
func (g *Gateway) Live() int {
	return int(g.live.Load())
}

// Execute runs one submission end to end.
//
// Errors:
//   - apperror.ErrValidation: bad input, nothing was run
//   - apperror.ErrUnavailable: admission control refused the request
//   - apperror.ErrInternal: the sandbox environment failed
//
// A script that throws or times out is not an error; it is a response with
// success=false.
func (g *Gateway) Execute(ctx context.Context, sub Submission) (*model.ExecutionResponse, error) {
	req, err := g.validate(sub)
	if err != nil {
		metrics.InputErrorsTotal.Inc()
		return nil, err
	}

	if err := g.admit(ctx); err != nil {
		return nil, err
	}
	g.live.Add(1)
	metrics.ActiveSessions.Inc()
	defer func() {
		g.live.Add(-1)
		metrics.ActiveSessions.Dec()
		g.slots.Release(1)
	}()

	session := newSession(req, g.now(), g.config.Timeout, g.config.MaxOutputBytes)
	logger := g.logger.With(slog.String("session", session.ID))

	if err := session.Advance(model.StatusRunning); err != nil {
		return nil, apperror.Internal(result.InternalErrorMessage, err)
	}
	session.StartedAt = g.now()

	outcome := g.sandbox.Run(ctx, req.Code, session.Deadline, session.Output)
	elapsed := g.now().Sub(session.StartedAt)

	if err := session.Advance(outcome.Status); err != nil {
		outcome = sandbox.InfraFailed(err)
		session.status = model.StatusInfraFailed
	}

	resp, fmtErr := g.formatter.Format(outcome, session.Output, elapsed)

	g.observe(logger, session, outcome, elapsed)
	g.record(logger, session, outcome, elapsed)

	if err := session.Advance(model.StatusReported); err != nil {
		logger.Error("session not reportable", slog.String("error", err.Error()))
	}

	return resp, fmtErr
}

// validate turns a raw submission into an immutable request.
func (g *Gateway) validate(sub Submission) (model.ExecutionRequest, error) {
	code, ok := sub.Code.(string)
	if !ok || code == "" {
		return model.ExecutionRequest{}, apperror.ValidationFailed("code", InvalidCodeMessage)
	}
	if len(code) > MaxCodeLength {
		return model.ExecutionRequest{}, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}

	language := SupportedLanguage
	if sub.Language != nil {
		language = fmt.Sprint(sub.Language)
	}
	if language != SupportedLanguage {
		return model.ExecutionRequest{}, apperror.ValidationFailed("language",
			fmt.Sprintf("Language %s is not supported yet", language))
	}

	return model.ExecutionRequest{
		Code:       code,
		Language:   language,
		ReceivedAt: g.now(),
	}, nil
}

// admit acquires one slot according to the admission policy. ctx bounds only
// the wait, never the run.
func (g *Gateway) admit(ctx context.Context) error {
	if g.slots.TryAcquire(1) {
		return nil
	}

	if g.config.Admission == AdmissionReject {
		metrics.RejectionsTotal.WithLabelValues("saturated").Inc()
		return apperror.Unavailable("All execution slots are busy, please retry shortly")
	}

	if g.waiting.Add(1) > int64(g.config.QueueLimit) {
		g.waiting.Add(-1)
		metrics.RejectionsTotal.WithLabelValues("queue_full").Inc()
		return apperror.Unavailable("Execution queue is full, please retry shortly")
	}
	metrics.QueueDepth.Inc()
	defer func() {
		g.waiting.Add(-1)
		metrics.QueueDepth.Dec()
	}()

	waitCtx := ctx
	if g.config.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.config.QueueTimeout)
		defer cancel()
	}

	start := g.now()
	if err := g.slots.Acquire(waitCtx, 1); err != nil {
		metrics.RejectionsTotal.WithLabelValues("queue_timeout").Inc()
		return apperror.Unavailable("Timed out waiting for an execution slot, please retry shortly")
	}
	metrics.QueueWait.Observe(float64(g.now().Sub(start).Milliseconds()))
	return nil
}

func (g *Gateway) observe(logger *slog.Logger, session *Session, outcome sandbox.Outcome, elapsed time.Duration) {
	lang := session.Request.Language
	status := string(outcome.Status)

	metrics.ExecutionsTotal.WithLabelValues(lang, status).Inc()
	metrics.ExecutionDuration.WithLabelValues(lang, status).Observe(float64(elapsed.Milliseconds()))
	if session.Output.Truncated() {
		metrics.OutputTruncatedTotal.Inc()
	}

	attrs := []any{
		slog.String("status", status),
		slog.Duration("elapsed", elapsed),
		slog.Int("outputBytes", session.Output.Size()),
		slog.Bool("truncated", session.Output.Truncated()),
	}

	switch outcome.Status {
	case model.StatusInfraFailed:
		metrics.InfraFailuresTotal.Inc()
		logger.Error("execution infrastructure failure", append(attrs, slog.String("error", outcome.Message))...)
	case model.StatusTimedOut:
		logger.Warn("execution timed out", attrs...)
	default:
		logger.Info("execution finished", attrs...)
	}
}

// record persists the outcome. Failing to write the log never fails the
// request.
func (g *Gateway) record(logger *slog.Logger, session *Session, outcome sandbox.Outcome, elapsed time.Duration) {
	if g.repo == nil {
		return
	}

	sum := sha256.Sum256([]byte(session.Request.Code))
	detail := outcome.Message
	if len(detail) > maxDetailLength {
		detail = strings.ToValidUTF8(detail[:maxDetailLength], "")
	}

	rec := &model.ExecutionRecord{
		ID:          session.ID,
		Language:    session.Request.Language,
		Status:      outcome.Status,
		CodeSHA256:  hex.EncodeToString(sum[:]),
		CodeBytes:   len(session.Request.Code),
		OutputBytes: session.Output.Size(),
		Truncated:   session.Output.Truncated(),
		Detail:      detail,
		Duration:    elapsed,
		CreatedAt:   session.Request.ReceivedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := g.repo.Create(ctx, rec); err != nil {
		logger.Error("failed to record execution", slog.String("error", err.Error()))
	}
}
