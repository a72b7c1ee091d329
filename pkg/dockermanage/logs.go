package dockermanage

import (
	"context"
	"fmt"
	"io"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/client"
	"go.uber.org/multierr"
)

// FollowLogs streams the container's stdout and stderr from its start into the given writers
// until the container exits or ctx is canceled. Cancellation is not reported as an error.
func (m *Manager) FollowLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) (retErr error) {
	reader, err := m.client.ContainerLogs(ctx, containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("follow logs of container %s: %w", containerID, err)
	}
	defer func() {
		retErr = multierr.Append(retErr, reader.Close())
	}()

	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read logs of container %s: %w", containerID, err)
	}
	return nil
}
