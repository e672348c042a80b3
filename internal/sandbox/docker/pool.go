package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/amstig/internal/sandbox"
)

// unit is a running container with a warm worker attached. Like a worker
// process it serves one Request and is then removed.
type unit struct {
	containerID string
	execID      string
	conn        types.HijackedResponse
	reader      *bufio.Reader
	stderr      *sandbox.LimitedBuffer
	copied      chan struct{}
}

// launcher creates and removes units against one Docker daemon.
type launcher struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
}

// create starts a container running `sleep infinity`, execs the worker in it
// and waits for the warm frame.
func (l *launcher) create(ctx context.Context) (*unit, error) {
	id, err := l.createContainer(ctx)
	if err != nil {
		return nil, err
	}

	execResp, err := l.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Env:          l.config.Worker.Env(),
		Cmd:          l.config.WorkerCmd,
	})
	if err != nil {
		l.removeContainer(id)
		return nil, fmt.Errorf("ContainerExecCreate failed: %w", err)
	}

	// The hijacked connection outlives ctx; it is closed by remove.
	conn, err := l.cli.ContainerExecAttach(context.WithoutCancel(ctx), execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		l.removeContainer(id)
		return nil, fmt.Errorf("ContainerExecAttach failed: %w", err)
	}

	pr, pw := io.Pipe()
	u := &unit{
		containerID: id,
		execID:      execResp.ID,
		conn:        conn,
		reader:      bufio.NewReader(pr),
		stderr:      sandbox.NewLimitedBuffer(l.config.Worker.StderrLimit),
		copied:      make(chan struct{}),
	}
	go func() {
		// Use stdcopy to demultiplex the frame stream from stderr
		_, err := stdcopy.StdCopy(pw, u.stderr, conn.Reader)
		pw.CloseWithError(err)
		close(u.copied)
	}()

	warm := make(chan error, 1)
	go func() { warm <- sandbox.AwaitWarm(u.reader) }()

	select {
	case err := <-warm:
		if err != nil {
			l.remove(u)
			return nil, fmt.Errorf("%w (stderr=%q)", err, u.stderr.String())
		}
		return u, nil
	case <-ctx.Done():
		l.remove(u)
		return nil, fmt.Errorf("docker: worker warm-up: %w", ctx.Err())
	}
}

func (l *launcher) createContainer(ctx context.Context) (string, error) {
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    l.config.MemoryLimit,
			NanoCPUs:  int64(l.config.CPULimit * 1e9),
			PidsLimit: ptr(int64(16)),
		},
		AutoRemove:     false,
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}

	resp, err := l.cli.ContainerCreate(ctx, &container.Config{
		Image:           l.config.Image,
		Cmd:             []string{"sleep", "infinity"},
		Tty:             false,
		AttachStdout:    false,
		AttachStderr:    false,
		User:            "nobody",
		NetworkDisabled: true,
		Labels:          map[string]string{"app": "amstig-sandbox"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.removeContainer(resp.ID) // Cleanup
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	return resp.ID, nil
}

// remove closes the attached stream and force removes the container.
func (l *launcher) remove(u *unit) {
	u.conn.Close()
	l.removeContainer(u.containerID)
	<-u.copied
}

// removeContainer force removes a container by ID. Removing a running
// container kills everything in it, which is how a run is stopped at its
// deadline.
func (l *launcher) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := l.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		l.logger.Error("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func ptr[T any](v T) *T { return &v }
