package sandbox

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	quickjswasi "github.com/paralin/go-quickjs-wasi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

//go:embed prelude.js
var prelude string

// DefaultMemoryLimitPages caps guest memory at 64 MiB (64 KiB pages).
const DefaultMemoryLimitPages uint32 = 1024

// EngineConfig configures the QuickJS interpreter.
type EngineConfig struct {
	// MemoryLimitPages caps linear memory; 0 means DefaultMemoryLimitPages.
	MemoryLimitPages uint32
	// CacheDir holds wazero's compilation cache. Empty disables the cache.
	CacheDir string
}

// Engine is a compiled QuickJS module ready to be instantiated. It lives
// inside a worker process; one Engine serves exactly one evaluation there.
type Engine struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled wazero.CompiledModule
}

// EvalResult describes how the interpreter exited.
type EvalResult struct {
	ExitCode         uint32
	DeadlineExceeded bool
}

// NewEngine creates a wazero runtime with WASI and compiles the interpreter.
// The guest gets no preopened directories, no environment and no sockets.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	pages := cfg.MemoryLimitPages
	if pages == 0 {
		pages = DefaultMemoryLimitPages
	}

	rtConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(pages)

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("sandbox: opening compilation cache: %w", err)
		}
		rtConfig = rtConfig.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		closeCache(ctx, cache)
		return nil, fmt.Errorf("sandbox: instantiating WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, quickjswasi.QuickJSWASM)
	if err != nil {
		rt.Close(ctx)
		closeCache(ctx, cache)
		return nil, fmt.Errorf("sandbox: compiling interpreter: %w", err)
	}

	return &Engine{runtime: rt, cache: cache, compiled: compiled}, nil
}

// Eval runs code under the prelude, which tags its frames with nonce. Guest
// stdout carries protocol frames and is wired straight to stdout; guest
// stderr goes to stderr.
//
// A non-nil error means the interpreter could not run to an exit (a trap or
// a runtime fault), which is different from the script throwing.
func (e *Engine) Eval(ctx context.Context, code, nonce string, stdout, stderr io.Writer) (EvalResult, error) {
	moduleConfig := wazero.NewModuleConfig().
		WithStdout(stdout).
		WithStderr(stderr).
		WithStdin(strings.NewReader("")).
		WithArgs("qjs", "--std", "-e", BuildScript(code, nonce)).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithName("")

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, moduleConfig)
	if mod != nil {
		mod.Close(ctx)
	}
	if err == nil {
		return EvalResult{}, nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			return EvalResult{ExitCode: exitErr.ExitCode(), DeadlineExceeded: true}, nil
		default:
			return EvalResult{ExitCode: exitErr.ExitCode()}, nil
		}
	}
	return EvalResult{}, fmt.Errorf("sandbox: interpreter fault: %w", err)
}

// Close releases the runtime and the compilation cache handle.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	closeCache(ctx, e.cache)
	return err
}

// BuildScript embeds code and nonce as string literals in the prelude
// invocation. JSON string syntax is a subset of JavaScript string syntax.
// The literals sit outside the prelude function, so its source text never
// contains the nonce.
func BuildScript(code, nonce string) string {
	lit, _ := json.Marshal(code)
	tag, _ := json.Marshal(nonce)
	return strings.TrimSpace(prelude) + "(std, " + string(lit) + ", " + string(tag) + ");\n"
}

// DefaultCacheDir follows XDG_CACHE_HOME, then the home directory, then the
// system temp dir.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "amstig")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "amstig")
	}
	return filepath.Join(os.TempDir(), "amstig-cache")
}

func closeCache(ctx context.Context, cache wazero.CompilationCache) {
	if cache != nil {
		cache.Close(ctx)
	}
}
