package process

import (
	"time"

	"github.com/sakif/amstig/internal/sandbox"
)

// Config holds the configuration for process-isolated execution.
type Config struct {
	// Binary is the worker executable. Empty means the running executable.
	Binary string
	// Args follow Binary on the worker command line.
	Args []string
	// Env is appended to the worker environment, which otherwise only
	// carries Worker.Env().
	Env []string
	// Worker configures the interpreter inside each worker.
	Worker sandbox.WorkerConfig
	// PoolSize is the number of pre-warmed workers to maintain.
	PoolSize int
	// WarmupTimeout bounds spawning a worker and waiting for its warm frame.
	WarmupTimeout time.Duration
	// ExitGrace is how long a worker may linger after its terminal frame.
	ExitGrace time.Duration
	// MaxFrameBytes bounds one protocol line.
	MaxFrameBytes int
}

// DefaultConfig provides defaults for a local worker pool.
func DefaultConfig() Config {
	return Config{
		Args: []string{"sandbox-worker"},
		Worker: sandbox.WorkerConfig{
			Engine: sandbox.EngineConfig{
				MemoryLimitPages: sandbox.DefaultMemoryLimitPages,
				CacheDir:         sandbox.DefaultCacheDir(),
			},
		},
		PoolSize:      4,
		WarmupTimeout: 30 * time.Second,
		ExitGrace:     time.Second,
		MaxFrameBytes: sandbox.DefaultMaxFrameBytes,
	}
}
