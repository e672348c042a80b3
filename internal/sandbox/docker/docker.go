// Package docker runs each script in a worker inside a throwaway container.
// It is the heavier-isolation alternative to sandbox/process: same worker,
// same frames, but the execution unit is a network-less, read-only container
// and the deadline kill is a forced container removal.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/sakif/amstig/internal/output"
	"github.com/sakif/amstig/internal/sandbox"
	"github.com/sakif/amstig/internal/warmpool"
)

// Sandbox implements sandbox.Sandbox using Docker.
type Sandbox struct {
	cli      *client.Client
	config   Config
	logger   *slog.Logger
	launcher *launcher
	pool     *warmpool.Pool[*unit]
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// New creates a new Docker Sandbox and initializes the connection.
func New(cfg Config, logger *slog.Logger) (*Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := ensureImage(ctx, cli, cfg, logger); err != nil {
		cli.Close()
		return nil, err
	}

	s := &Sandbox{
		cli:    cli,
		config: cfg,
		logger: logger,
		launcher: &launcher{
			cli:    cli,
			config: cfg,
			logger: logger,
		},
	}

	poolCfg := warmpool.DefaultConfig("docker")
	poolCfg.Size = cfg.PoolSize
	if cfg.WarmupTimeout > 0 {
		poolCfg.CreateTimeout = cfg.WarmupTimeout
	}
	s.pool = warmpool.New(poolCfg, s.launcher.create, s.launcher.remove, logger)
	s.pool.Start()

	return s, nil
}

func ensureImage(ctx context.Context, cli *client.Client, cfg Config, logger *slog.Logger) error {
	if !cfg.Pull {
		if _, err := cli.ImageInspect(ctx, cfg.Image); err != nil {
			return fmt.Errorf("sandbox image %s not found (build it with Dockerfile.sandbox): %w", cfg.Image, err)
		}
		return nil
	}

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	io.Copy(io.Discard, reader)
	logger.Info("docker image is ready")
	return nil
}

// Close shuts down the pool and docker client.
func (s *Sandbox) Close() error {
	s.pool.Stop()
	return s.cli.Close()
}

// Ready reports how many warm containers are waiting.
func (s *Sandbox) Ready() int {
	return s.pool.Ready()
}

// Run executes code in a pre-warmed container, removing it afterwards.
func (s *Sandbox) Run(ctx context.Context, code string, deadline time.Time, out *output.Collector) sandbox.Outcome {
	nonce, err := sandbox.NewNonce()
	if err != nil {
		return sandbox.InfraFailed(fmt.Errorf("docker: %w", err))
	}

	getCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	u, err := s.pool.Get(getCtx)
	cancel()
	if err != nil {
		return sandbox.InfraFailed(fmt.Errorf("docker: acquiring warm container: %w", err))
	}

	// Always ensure we clean up the container that we acquired
	defer s.launcher.remove(u)

	var killed atomic.Bool
	timer := time.AfterFunc(time.Until(deadline), func() {
		killed.Store(true)
		s.launcher.removeContainer(u.containerID)
	})
	defer timer.Stop()

	if err := json.NewEncoder(u.conn.Conn).Encode(sandbox.Request{Code: code, Deadline: deadline, Nonce: nonce}); err != nil {
		if killed.Load() {
			return sandbox.TimedOut()
		}
		return sandbox.InfraFailed(fmt.Errorf("docker: sending request: %w", err))
	}
	if err := u.conn.CloseWrite(); err != nil {
		s.logger.Warn("failed to half-close exec stream", slog.String("id", u.containerID), slog.String("error", err.Error()))
	}

	rep := sandbox.Relay(u.reader, nonce, out, s.config.MaxFrameBytes)
	timer.Stop()

	var waitErr error
	if !killed.Load() {
		inspectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		insp, err := s.cli.ContainerExecInspect(inspectCtx, u.execID)
		cancel()
		if err != nil {
			waitErr = err
		} else if insp.ExitCode != 0 {
			waitErr = fmt.Errorf("exec exited with status %d", insp.ExitCode)
		}
	}

	return sandbox.Classify(rep, killed.Load(), waitErr, u.stderr.String(), out)
}
