// Package process runs each script in a one-shot worker process.
//
// HOW IT WORKS:
//
//  1. The warm pool keeps PoolSize workers spawned, each with the interpreter
//     already compiled and blocked on stdin.
//  2. Run takes one, writes the Request and closes stdin.
//  3. Frames are relayed into the collector until a terminal frame or EOF.
//  4. At the deadline the worker's process group gets SIGKILL. The pipe then
//     hits EOF and Relay returns with whatever was printed so far.
//  5. The worker is destroyed no matter how it ended, and the pool spawns a
//     replacement.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/output"
	"github.com/sakif/amstig/internal/sandbox"
	"github.com/sakif/amstig/internal/warmpool"
)

// Sandbox implements sandbox.Sandbox with worker processes.
type Sandbox struct {
	config Config
	logger *slog.Logger
	pool   *warmpool.Pool[*worker]
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// New validates cfg and starts the warm pool.
func New(cfg Config, logger *slog.Logger) (*Sandbox, error) {
	if cfg.Binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("process: locating worker binary: %w", err)
		}
		cfg.Binary = exe
	}
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = time.Second
	}
	if cfg.Worker.Engine.CacheDir != "" {
		if err := os.MkdirAll(cfg.Worker.Engine.CacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("process: creating cache dir: %w", err)
		}
	}

	s := &Sandbox{
		config: cfg,
		logger: logger,
	}

	poolCfg := warmpool.DefaultConfig("process")
	poolCfg.Size = cfg.PoolSize
	if cfg.WarmupTimeout > 0 {
		poolCfg.CreateTimeout = cfg.WarmupTimeout
	}
	s.pool = warmpool.New(poolCfg, func(ctx context.Context) (*worker, error) {
		return spawn(ctx, s.config)
	}, (*worker).destroy, logger)
	s.pool.Start()

	logger.Info("process sandbox ready",
		slog.String("binary", cfg.Binary),
		slog.Int("poolSize", cfg.PoolSize),
	)
	return s, nil
}

// Run executes code in a fresh worker. See the package doc for the flow.
func (s *Sandbox) Run(ctx context.Context, code string, deadline time.Time, out *output.Collector) sandbox.Outcome {
	nonce, err := sandbox.NewNonce()
	if err != nil {
		return sandbox.InfraFailed(fmt.Errorf("process: %w", err))
	}

	getCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	w, err := s.pool.Get(getCtx)
	cancel()
	if err != nil {
		return sandbox.InfraFailed(fmt.Errorf("process: acquiring warm worker: %w", err))
	}
	defer w.destroy()

	var killed atomic.Bool
	timer := time.AfterFunc(time.Until(deadline), func() {
		killed.Store(true)
		w.kill()
	})
	defer timer.Stop()

	if err := json.NewEncoder(w.stdin).Encode(sandbox.Request{Code: code, Deadline: deadline, Nonce: nonce}); err != nil {
		if killed.Load() {
			return sandbox.TimedOut()
		}
		return sandbox.InfraFailed(fmt.Errorf("process: sending request: %w (stderr=%q)", err, w.stderr.String()))
	}
	w.stdin.Close()

	rep := sandbox.Relay(w.reader, nonce, out, s.config.MaxFrameBytes)
	timer.Stop()
	waitErr := w.wait(s.config.ExitGrace)

	outcome := sandbox.Classify(rep, killed.Load(), waitErr, w.stderr.String(), out)
	if outcome.Status == model.StatusInfraFailed {
		s.logger.Error("worker failed",
			slog.Int("pid", w.cmd.Process.Pid),
			slog.String("error", outcome.Message),
		)
	}
	return outcome
}

// Ready reports how many warm workers are waiting.
func (s *Sandbox) Ready() int {
	return s.pool.Ready()
}

// Close stops the pool and kills every idle worker.
func (s *Sandbox) Close() error {
	s.pool.Stop()
	return nil
}
