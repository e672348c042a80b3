// Command amstig runs untrusted JavaScript in a sandbox, either behind the
// HTTP API (serve), once from the command line (run), or as the one-shot
// worker the process sandbox spawns (sandbox-worker).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/amstig/internal/config"
	"github.com/sakif/amstig/internal/metrics"
	"github.com/sakif/amstig/internal/sandbox"
	"github.com/sakif/amstig/internal/sandbox/docker"
	"github.com/sakif/amstig/internal/sandbox/process"
)

var rootCmd = &cobra.Command{
	Use:   "amstig",
	Short: "Sandboxed JavaScript execution service",
	Long: `amstig - run untrusted JavaScript safely.

Each submission runs in a fresh QuickJS interpreter compiled to WebAssembly,
inside its own worker process or container, with no filesystem, environment,
or network access and a hard wall-clock deadline.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// readySandbox is what the commands need from a backend beyond sandbox.Sandbox.
type readySandbox interface {
	sandbox.Sandbox
	Ready() int
}

// newSandbox builds the backend named by cfg.Backend and exports its warm
// pool size as a metric.
func newSandbox(cfg config.Config, logger *slog.Logger) (readySandbox, error) {
	var (
		sb  readySandbox
		err error
	)
	switch cfg.Backend {
	case config.BackendDocker:
		dcfg := docker.DefaultConfig()
		dcfg.Image = cfg.DockerImage
		dcfg.PoolSize = cfg.PoolSize
		dcfg.Worker.Engine.MemoryLimitPages = cfg.MemoryPages
		sb, err = docker.New(dcfg, logger)
	case config.BackendProcess:
		pcfg := process.DefaultConfig()
		pcfg.PoolSize = cfg.PoolSize
		pcfg.Worker.Engine.MemoryLimitPages = cfg.MemoryPages
		pcfg.Worker.Engine.CacheDir = cfg.CacheDir
		sb, err = process.New(pcfg, logger)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("starting %s sandbox: %w", cfg.Backend, err)
	}

	metrics.RegisterWarmPool(cfg.Backend, sb.Ready)
	return sb, nil
}
