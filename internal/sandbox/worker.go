package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Environment variables understood by the worker. The host starts workers
// with an otherwise empty environment.
const (
	EnvWorkerCacheDir    = "AMSTIG_WORKER_CACHE_DIR"
	EnvWorkerMemoryPages = "AMSTIG_WORKER_MEMORY_PAGES"
)

// WorkerConfig configures ServeWorker.
type WorkerConfig struct {
	Engine      EngineConfig
	StderrLimit int
}

// WorkerConfigFromEnv reads the worker configuration with getenv.
func WorkerConfigFromEnv(getenv func(string) string) WorkerConfig {
	cfg := WorkerConfig{
		Engine: EngineConfig{CacheDir: getenv(EnvWorkerCacheDir)},
	}
	if v := getenv(EnvWorkerMemoryPages); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Engine.MemoryLimitPages = uint32(n)
		}
	}
	return cfg
}

// Env renders cfg as the environment of a worker process.
func (cfg WorkerConfig) Env() []string {
	env := []string{}
	if cfg.Engine.CacheDir != "" {
		env = append(env, EnvWorkerCacheDir+"="+cfg.Engine.CacheDir)
	}
	if cfg.Engine.MemoryLimitPages > 0 {
		env = append(env, EnvWorkerMemoryPages+"="+strconv.FormatUint(uint64(cfg.Engine.MemoryLimitPages), 10))
	}
	return env
}

// ServeWorker is the body of the one-shot worker process:
//
//  1. compile the interpreter, then write a warm frame
//  2. block until exactly one Request arrives on in
//  3. evaluate it, frames streaming to out
//  4. write a terminal exit or fault frame and return
//
// The returned error is for the worker's own exit status; the host learns
// everything it needs from the frames.
func ServeWorker(ctx context.Context, cfg WorkerConfig, in io.Reader, out io.Writer) error {
	fw := &frameWriter{w: out}

	engine, err := NewEngine(ctx, cfg.Engine)
	if err != nil {
		fw.write(Frame{Type: FrameFault, Msg: err.Error()})
		return err
	}
	defer engine.Close(ctx)

	if err := fw.write(Frame{Type: FrameWarm}); err != nil {
		return fmt.Errorf("sandbox: announcing warm worker: %w", err)
	}

	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		fw.write(Frame{Type: FrameFault, Msg: "reading request: " + err.Error()})
		return fmt.Errorf("sandbox: reading request: %w", err)
	}

	runCtx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	stderr := NewLimitedBuffer(cfg.StderrLimit)
	res, err := engine.Eval(runCtx, req.Code, req.Nonce, out, stderr)

	// The script may have left a partial line on stdout.
	fw.nonce, fw.fresh = req.Nonce, true
	if err != nil {
		fw.write(Frame{Type: FrameFault, Msg: err.Error()})
		return nil
	}

	return fw.write(Frame{
		Type:    FrameExit,
		Code:    res.ExitCode,
		Timeout: res.DeadlineExceeded,
		Stderr:  stderr.String(),
	})
}

type frameWriter struct {
	mu    sync.Mutex
	w     io.Writer
	nonce string
	// fresh starts each frame on a new line.
	fresh bool
}

func (f *frameWriter) write(frame Frame) error {
	frame.Nonce = f.nonce
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	line := append(data, '\n')
	if f.fresh {
		line = append([]byte{'\n'}, line...)
	}
	_, err = f.w.Write(line)
	return err
}
