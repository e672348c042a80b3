package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/sakif/amstig/internal/sandbox"
)

// worker is one spawned, warmed-up worker process. It serves exactly one
// Request and is then destroyed.
type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	reader *bufio.Reader
	stderr *sandbox.LimitedBuffer

	exited  chan struct{}
	waitErr error
}

// spawn starts a worker and blocks until it reports warm.
//
// stdout is an *os.File we own, so cmd.Wait can run in the background
// without closing the pipe under a concurrent reader.
func spawn(ctx context.Context, cfg Config) (*worker, error) {
	cmd := exec.Command(cfg.Binary, cfg.Args...)
	cmd.Env = append(cfg.Worker.Env(), cfg.Env...)
	cmd.Dir = os.TempDir()
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	stderr := sandbox.NewLimitedBuffer(cfg.Worker.StderrLimit)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("process: starting worker: %w", err)
	}
	pw.Close()

	w := &worker{
		cmd:    cmd,
		stdin:  stdin,
		stdout: pr,
		reader: bufio.NewReader(pr),
		stderr: stderr,
		exited: make(chan struct{}),
	}
	go func() {
		w.waitErr = cmd.Wait()
		close(w.exited)
	}()

	warm := make(chan error, 1)
	go func() { warm <- sandbox.AwaitWarm(w.reader) }()

	select {
	case err := <-warm:
		if err != nil {
			w.destroy()
			return nil, fmt.Errorf("%w (stderr=%q)", err, w.stderr.String())
		}
		return w, nil
	case <-ctx.Done():
		w.destroy()
		return nil, fmt.Errorf("process: worker warm-up: %w", ctx.Err())
	}
}

// kill signals the worker's whole process group. It never waits, so a
// concurrent reader still drains the pipe to EOF.
func (w *worker) kill() {
	select {
	case <-w.exited:
		return
	default:
	}
	killGroup(w.cmd)
}

// wait returns the exit error, killing the worker if it outlives grace.
func (w *worker) wait(grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-w.exited:
	case <-timer.C:
		w.kill()
		<-w.exited
	}
	return w.waitErr
}

// destroy kills the worker and releases its pipes.
func (w *worker) destroy() {
	w.kill()
	w.stdin.Close()
	<-w.exited
	w.stdout.Close()
}
