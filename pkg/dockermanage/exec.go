package dockermanage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/client"
)

// ExecOptions describes a one-shot command run inside a container.
type ExecOptions struct {
	Cmd []string
	// Stdout and Stderr receive the command output. Nil writers discard it.
	Stdout io.Writer
	Stderr io.Writer
}

// ExecResult is the outcome of a completed command.
type ExecResult struct {
	ExitCode int
}

// Exec runs a command in a running container and waits for it to finish. A non-zero exit code is
// reported in the result, not as an error.
func (m *Manager) Exec(ctx context.Context, containerID string, opts ExecOptions) (_ *ExecResult, retErr error) {
	if len(opts.Cmd) == 0 {
		return nil, errors.New("exec command must not be empty")
	}
	created, err := m.client.ExecCreate(ctx, containerID, client.ExecCreateOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          opts.Cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attached, err := m.client.ExecAttach(ctx, created.ID, client.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec %s: %w", created.ID, err)
	}
	defer attached.Close()

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attached.Reader)
		copied <- err
	}()
	select {
	case err := <-copied:
		if err != nil {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inspect, err := m.client.ExecInspect(ctx, created.ID, client.ExecInspectOptions{})
	if err != nil {
		return nil, fmt.Errorf("inspect exec %s: %w", created.ID, err)
	}
	m.logger.Debug(
		"docker exec finished",
		slog.String("container_id", containerID),
		slog.Any("cmd", opts.Cmd),
		slog.Int("exit_code", inspect.ExitCode),
	)
	return &ExecResult{ExitCode: inspect.ExitCode}, nil
}
