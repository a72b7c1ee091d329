package dockermanage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/netip"
	"os"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
	"go.uber.org/multierr"
)

// Container is a running Docker container managed by this package.
type Container struct {
	ID    string
	Image string
	Host  string
	// Ports maps every exposed container port to its bound host port.
	Ports  map[int]int
	Labels map[string]string
}

// MappedPort returns the host port bound to containerPort.
func (c *Container) MappedPort(containerPort int) (int, error) {
	hostPort, ok := c.Ports[containerPort]
	if !ok {
		return 0, fmt.Errorf("container port %d is not exposed", containerPort)
	}
	return hostPort, nil
}

// Manager manages Docker containers using the native Docker client.
type Manager struct {
	client *client.Client
	logger *slog.Logger
}

// NewManager creates a new manager backed by the Docker client configured from environment.
func NewManager(logger *slog.Logger) (*Manager, error) {
	dockerClient, err := client.New(
		client.FromEnv,
	)
	if err != nil {
		return nil, fmt.Errorf("create Docker client: %w", err)
	}
	return newManagerWithClient(dockerClient, logger), nil
}

func newManagerWithClient(dockerClient *client.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		client: dockerClient,
		logger: logger.With(slog.String("logger", "dockermanage")),
	}
}

// Start creates a container from the provided options, copies the configured files into it and
// starts it. If any step fails the container is removed again.
func (m *Manager) Start(ctx context.Context, options ...Option) (_ *Container, retErr error) {
	cfg := defaultConfig()
	cfg.pullProgress = os.Stderr
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.image == "" {
		return nil, errors.New("image is required")
	}
	if len(cfg.ports) == 0 {
		return nil, errors.New("at least one container port is required")
	}
	hostIP, err := netip.ParseAddr(cfg.hostIP)
	if err != nil {
		return nil, fmt.Errorf("parse host IP: %w", err)
	}
	if err := m.pullImageIfNotExists(ctx, cfg.image, cfg.pullProgress); err != nil {
		return nil, fmt.Errorf("pull image %s: %w", cfg.image, err)
	}

	exposed := make(network.PortSet, len(cfg.ports))
	bindings := make(network.PortMap, len(cfg.ports))
	for _, p := range cfg.ports {
		binding := network.PortBinding{HostIP: hostIP}
		if p.hostPort > 0 {
			binding.HostPort = strconv.Itoa(p.hostPort)
		}
		exposed[p.port] = struct{}{}
		bindings[p.port] = []network.PortBinding{binding}
	}

	resp, err := m.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name: cfg.name,
		Config: &container.Config{
			Image:        cfg.image,
			Env:          cfg.envVars,
			ExposedPorts: exposed,
			Labels:       maps.Clone(cfg.labels),
		},
		HostConfig: &container.HostConfig{
			PortBindings: bindings,
			AutoRemove:   cfg.autoRemove,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		if retErr != nil {
			cleanupCtx := context.WithoutCancel(ctx)
			_, err := m.client.ContainerRemove(cleanupCtx, resp.ID, client.ContainerRemoveOptions{Force: true})
			if err != nil {
				m.logger.Error(
					"remove container after start failure",
					slog.String("container_id", resp.ID),
					slog.Any("error", err),
				)
			}
		}
	}()

	for _, c := range cfg.copies {
		if err := m.CopyToContainer(ctx, resp.ID, c.hostPath, c.containerPath); err != nil {
			return nil, err
		}
	}

	if _, err := m.client.ContainerStart(ctx, resp.ID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	inspectResult, err := m.client.ContainerInspect(ctx, resp.ID, client.ContainerInspectOptions{})
	if err != nil {
		return nil, fmt.Errorf("inspect container for ports: %w", err)
	}
	ports := make(map[int]int, len(cfg.ports))
	for _, p := range cfg.ports {
		hostPort := p.hostPort
		if hostPort == 0 {
			hostPort, err = resolveBoundPort(inspectResult.Container, p.port)
			if err != nil {
				return nil, fmt.Errorf("resolve host port: %w", err)
			}
		}
		ports[p.number] = hostPort
	}

	m.logger.Info(
		"docker container started",
		slog.String("container_id", resp.ID),
		slog.String("image", cfg.image),
		slog.Any("ports", ports),
		slog.Int("copied", len(cfg.copies)),
	)
	return &Container{
		ID:     resp.ID,
		Image:  cfg.image,
		Host:   cfg.hostIP,
		Ports:  ports,
		Labels: maps.Clone(cfg.labels),
	}, nil
}

func resolveBoundPort(containerJSON container.InspectResponse, containerPort network.Port) (int, error) {
	if containerJSON.NetworkSettings == nil {
		return 0, errors.New("container network settings are missing")
	}
	portBindings, ok := containerJSON.NetworkSettings.Ports[containerPort]
	if !ok || len(portBindings) == 0 {
		return 0, fmt.Errorf("no port bindings found for %s", containerPort)
	}
	for _, binding := range portBindings {
		if binding.HostPort == "" {
			continue
		}
		port, err := strconv.Atoi(binding.HostPort)
		if err != nil {
			return 0, fmt.Errorf("parse host port %q: %w", binding.HostPort, err)
		}
		return port, nil
	}
	return 0, fmt.Errorf("no host port found for %s", containerPort)
}

// Stop stops a running container.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	if _, err := m.client.ContainerStop(ctx, containerID, client.ContainerStopOptions{}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	m.logger.Info("docker container stopped", slog.String("container_id", containerID))
	return nil
}

// Remove removes a container. If running, it is force removed.
func (m *Manager) Remove(ctx context.Context, containerID string) error {
	if _, err := m.client.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	m.logger.Info("docker container removed", slog.String("container_id", containerID))
	return nil
}

// ListManaged returns the IDs of all containers started by this package.
func (m *Manager) ListManaged(ctx context.Context) ([]string, error) {
	result, err := m.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: client.Filters{}.Add("label", ManagedLabelKey),
	})
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}
	ids := make([]string, 0, len(result.Items))
	for _, c := range result.Items {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// StopManaged stops all containers started by this package.
func (m *Manager) StopManaged(ctx context.Context) error {
	return m.forEachManaged(ctx, "stop", m.Stop)
}

// RemoveManaged removes all containers started by this package.
func (m *Manager) RemoveManaged(ctx context.Context) error {
	return m.forEachManaged(ctx, "remove", m.Remove)
}

func (m *Manager) forEachManaged(ctx context.Context, verb string, fn func(context.Context, string) error) error {
	ids, err := m.ListManaged(ctx)
	if err != nil {
		return fmt.Errorf("list containers for %s: %w", verb, err)
	}
	var err error
	for _, id := range ids {
		err = multierr.Append(err, fn(ctx, id))
	}
	if err != nil {
		return err
	}
	m.logger.Info("managed containers processed", slog.String("action", verb), slog.Int("count", len(ids)))
	return nil
}

// Close closes the underlying Docker client.
func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) pullImageIfNotExists(ctx context.Context, imageName string, progressWriter io.Writer) (retErr error) {
	if _, err := m.client.ImageInspect(ctx, imageName); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}

	m.logger.Info("pulling docker image", slog.String("image", imageName))
	reader, err := m.client.ImagePull(ctx, imageName, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer func() {
		retErr = multierr.Append(retErr, reader.Close())
	}()

	if progressWriter == nil {
		progressWriter = io.Discard
	}
	if _, err := io.Copy(progressWriter, reader); err != nil {
		return fmt.Errorf("stream pull output: %w", err)
	}
	return nil
}
