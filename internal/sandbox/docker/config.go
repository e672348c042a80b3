package docker

import (
	"time"

	"github.com/sakif/amstig/internal/sandbox"
)

// Config holds the configuration for Docker execution.
type Config struct {
	// Image is the sandbox image; it must contain the amstig binary and sleep.
	Image string
	// Pull fetches Image from a registry on start instead of requiring a
	// local build.
	Pull bool
	// WorkerCmd starts the worker inside the container.
	WorkerCmd []string
	// Worker configures the interpreter inside each container.
	Worker sandbox.WorkerConfig
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// WarmupTimeout bounds creating a container and waiting for its worker.
	WarmupTimeout time.Duration
	// MaxFrameBytes bounds one protocol line.
	MaxFrameBytes int
}

// DefaultConfig provides defaults matching the Dockerfile.sandbox image.
func DefaultConfig() Config {
	return Config{
		Image:     "amstig-sandbox:latest",
		WorkerCmd: []string{"/usr/local/bin/amstig", "sandbox-worker"},
		// The root filesystem is read-only, so no compilation cache; the
		// interpreter is compiled while the container waits in the pool.
		Worker: sandbox.WorkerConfig{
			Engine: sandbox.EngineConfig{MemoryLimitPages: sandbox.DefaultMemoryLimitPages},
		},
		// 128 MB memory limit
		MemoryLimit: 128 * 1024 * 1024,
		// 0.5 CPU shares
		CPULimit:      0.5,
		PoolSize:      3,
		WarmupTimeout: time.Minute,
		MaxFrameBytes: sandbox.DefaultMaxFrameBytes,
	}
}
