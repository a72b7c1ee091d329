package dockermanage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/moby/go-archive"
	"github.com/moby/moby/client"
	"go.uber.org/multierr"
)

// CopyToContainer copies a host file or directory to containerPath. Missing parent directories in
// the container are created.
func (m *Manager) CopyToContainer(ctx context.Context, containerID, hostPath, containerPath string) (retErr error) {
	if !path.IsAbs(containerPath) {
		return fmt.Errorf("container path must be absolute: %q", containerPath)
	}
	rebase := strings.TrimPrefix(path.Clean(containerPath), "/")
	if rebase == "" {
		return errors.New("container path must not be /")
	}

	content, err := archive.TarResourceRebase(hostPath, rebase)
	if err != nil {
		return fmt.Errorf("archive %s: %w", hostPath, err)
	}
	defer func() {
		retErr = multierr.Append(retErr, content.Close())
	}()

	if _, err := m.client.CopyToContainer(ctx, containerID, client.CopyToContainerOptions{
		DestinationPath: "/",
		Content:         content,
	}); err != nil {
		return fmt.Errorf("copy %s to %s:%s: %w", hostPath, containerID, containerPath, err)
	}
	m.logger.Debug(
		"copied file into container",
		slog.String("container_id", containerID),
		slog.String("source", hostPath),
		slog.String("destination", containerPath),
	)
	return nil
}
