package hivemq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/hivemq/hivemq-testcontainer/expect"
	"github.com/hivemq/hivemq-testcontainer/extension"
	"github.com/hivemq/hivemq-testcontainer/internal/containerpath"
	"github.com/hivemq/hivemq-testcontainer/lifecycle"
	"github.com/hivemq/hivemq-testcontainer/logstream"
	"github.com/hivemq/hivemq-testcontainer/pkg/dockermanage"
	"github.com/hivemq/hivemq-testcontainer/wait"
)

// logDrainTimeout bounds how long Stop waits for the log follower to finish.
const logDrainTimeout = 5 * time.Second

// runtime is the subset of dockermanage.Manager a Container uses.
type runtime interface {
	Start(ctx context.Context, options ...dockermanage.Option) (*dockermanage.Container, error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, opts dockermanage.ExecOptions) (*dockermanage.ExecResult, error)
	FollowLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error
}

var _ runtime = (*dockermanage.Manager)(nil)

// Container is a HiveMQ broker running in Docker. The zero value is not usable; use New.
type Container struct {
	cfg    *config
	logger *slog.Logger

	output    *logstream.Broadcaster
	registry  *expect.Registry
	printer   *logstream.Printer
	lifecycle *lifecycle.Controller

	// newRuntime creates the runtime when no manager was configured.
	newRuntime func(*slog.Logger) (runtime, io.Closer, error)

	mu         sync.Mutex
	rt         runtime
	rtCloser   io.Closer
	running    *dockermanage.Container
	stopLogs   context.CancelFunc
	logsDone   chan struct{}
	stagingDir string
	closers    []io.Closer
}

var (
	_ wait.Target        = (*Container)(nil)
	_ lifecycle.Executor = (*Container)(nil)
)

// New validates the options and prepares a container. Nothing is started until Start.
func New(opts ...Option) (*Container, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Container{
		cfg:      cfg,
		logger:   logger.With(slog.String("logger", "hivemq")),
		output:   logstream.NewBroadcaster(logger),
		registry: expect.New(logger),
		printer:  logstream.NewPrinter(cfg.output),
		newRuntime: func(logger *slog.Logger) (runtime, io.Closer, error) {
			m, err := dockermanage.NewManager(logger)
			if err != nil {
				return nil, nil, err
			}
			return m, m, nil
		},
	}
	if cfg.manager != nil {
		c.rt = cfg.manager
	}
	c.printer.SetSilent(cfg.silent)
	c.output.Subscribe(c.printer)
	c.output.Subscribe(c.registry)
	c.lifecycle = lifecycle.New(c.registry, c, logger)
	return c, nil
}

// Start pulls the image if needed, starts the broker and blocks until the configured wait
// strategies report it ready. It is bounded by ctx's deadline or WithStartupTimeout, whichever
// comes first. On failure the container is removed.
func (c *Container) Start(ctx context.Context) (retErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running != nil {
		return ErrAlreadyStarted
	}
	if _, ok := ctx.Deadline(); !ok && c.cfg.startupTimeout <= 0 {
		return ErrNoStartupTimeout
	}
	if c.cfg.startupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.startupTimeout)
		defer cancel()
	}
	if c.rt == nil {
		rt, closer, err := c.newRuntime(c.logger)
		if err != nil {
			return err
		}
		c.rt, c.rtCloser = rt, closer
	}
	defer func() {
		if retErr != nil {
			retErr = multierr.Append(retErr, c.cleanupLocked(context.WithoutCancel(ctx)))
		}
	}()

	waitFn, release, err := c.strategy().Arm(c.registry)
	if err != nil {
		return fmt.Errorf("arm wait strategy: %w", err)
	}
	defer release()

	opts, err := c.dockerOptions(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("starting hivemq container", slog.String("image", c.cfg.imageRef()))
	started, err := c.rt.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("start hivemq container: %w", err)
	}
	c.running = started
	c.followLogs(started.ID)

	if err := waitFn(ctx, containerTarget{started}); err != nil {
		return fmt.Errorf("hivemq container %s did not become ready: %w", shortID(started.ID), err)
	}
	c.logger.Info(
		"hivemq container ready",
		slog.String("container_id", shortID(started.ID)),
		slog.Any("ports", started.Ports),
	)
	return nil
}

func (c *Container) strategy() wait.Strategy {
	switch len(c.cfg.strategies) {
	case 0:
		return wait.ForMQTT().WithPort(MQTTPort).WithLogger(c.cfg.logger)
	case 1:
		return c.cfg.strategies[0]
	default:
		return wait.All(c.cfg.strategies...)
	}
}

// dockerOptions stages extensions and rendered files and translates the configuration. It must be
// called with c.mu held.
func (c *Container) dockerOptions(ctx context.Context) ([]dockermanage.Option, error) {
	opts := []dockermanage.Option{
		dockermanage.WithImage(c.cfg.imageRef()),
		dockermanage.WithContainerPortTCP(MQTTPort),
		dockermanage.WithEnvVars(c.cfg.env),
		dockermanage.WithLabel(dockermanage.ManagedLabelKey, "hivemq"),
	}
	for _, port := range slices.Sorted(maps.Keys(c.cfg.fixedPorts)) {
		opts = append(opts, dockermanage.WithFixedPortTCP(port, c.cfg.fixedPorts[port]))
	}
	for _, src := range c.cfg.extensions {
		dir, err := src.supplier.Supply(ctx)
		if closer, ok := src.supplier.(io.Closer); ok {
			c.closers = append(c.closers, closer)
		}
		if err != nil {
			return nil, fmt.Errorf("supply extension %s: %w", src.id, err)
		}
		opts = append(opts, dockermanage.WithCopy(dir, containerpath.Extensions+"/"+src.id))
	}
	for _, f := range c.cfg.files {
		opts = append(opts, dockermanage.WithCopy(f.hostPath, f.containerPath))
	}
	if len(c.cfg.rendered) > 0 {
		dir, err := os.MkdirTemp("", "hivemq-testcontainer-")
		if err != nil {
			return nil, err
		}
		c.stagingDir = dir
		for i, f := range c.cfg.rendered {
			name := filepath.Join(dir, fmt.Sprintf("%d-%s", i, f.name))
			if err := os.WriteFile(name, f.content, 0o644); err != nil {
				return nil, err
			}
			opts = append(opts, dockermanage.WithCopy(name, f.containerPath))
		}
	}
	return opts, nil
}

func (c *Container) followLogs(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopLogs, c.logsDone = cancel, done

	stdout := logstream.NewLineWriter(c.output, logstream.Stdout)
	stderr := logstream.NewLineWriter(c.output, logstream.Stderr)
	go func() {
		defer close(done)
		defer stderr.Flush()
		defer stdout.Flush()
		if err := c.rt.FollowLogs(ctx, id, stdout, stderr); err != nil {
			c.logger.Warn("following container output stopped", slog.String("container_id", shortID(id)), slog.Any("error", err))
		}
	}()
}

// Stop stops and removes the container, releases every pending expectation and deletes staged
// files. Stopping a container that is not running is a no-op.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(ctx)
}

func (c *Container) cleanupLocked(ctx context.Context) error {
	var err error
	if c.running != nil {
		id := c.running.ID
		if stopErr := c.rt.Stop(ctx, id); stopErr != nil {
			c.logger.Debug("stop before remove failed", slog.String("container_id", shortID(id)), slog.Any("error", stopErr))
		}
		err = multierr.Append(err, c.rt.Remove(ctx, id))
		c.running = nil
	}
	if c.stopLogs != nil {
		c.stopLogs()
		select {
		case <-c.logsDone:
		case <-time.After(logDrainTimeout):
			c.logger.Warn("container output follower did not finish")
		}
		c.stopLogs, c.logsDone = nil, nil
	}
	c.registry.Reset()

	for _, closer := range c.closers {
		err = multierr.Append(err, closer.Close())
	}
	c.closers = nil
	if c.stagingDir != "" {
		err = multierr.Append(err, os.RemoveAll(c.stagingDir))
		c.stagingDir = ""
	}
	if c.rtCloser != nil {
		err = multierr.Append(err, c.rtCloser.Close())
		c.rt, c.rtCloser = nil, nil
	}
	return err
}

func (c *Container) current() (*dockermanage.Container, runtime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running == nil {
		return nil, nil, ErrNotStarted
	}
	return c.running, c.rt, nil
}

// ID returns the Docker container id, or "" when not started.
func (c *Container) ID() string {
	running, _, err := c.current()
	if err != nil {
		return ""
	}
	return running.ID
}

// Host returns the address the container's ports are bound to, or "" when not started.
func (c *Container) Host() string {
	running, _, err := c.current()
	if err != nil {
		return ""
	}
	return running.Host
}

// MappedPort returns the host port bound to containerPort.
func (c *Container) MappedPort(containerPort int) (int, error) {
	running, _, err := c.current()
	if err != nil {
		return 0, err
	}
	return running.MappedPort(containerPort)
}

// MQTTPort returns the host port of the broker's MQTT listener.
func (c *Container) MQTTPort() (int, error) {
	return c.MappedPort(MQTTPort)
}

// ExecOneShot runs cmd inside the container and waits for it to exit.
func (c *Container) ExecOneShot(ctx context.Context, cmd ...string) error {
	running, rt, err := c.current()
	if err != nil {
		return err
	}
	var out bytes.Buffer
	res, err := rt.Exec(ctx, running.ID, dockermanage.ExecOptions{Cmd: cmd, Stdout: &out, Stderr: &out})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Cmd: cmd, ExitCode: res.ExitCode, Output: out.String()}
	}
	return nil
}

// DisableExtension disables a running extension and reports whether the broker confirmed it
// within timeout. A non-positive timeout means 60 seconds. Community Edition images never confirm.
func (c *Container) DisableExtension(ctx context.Context, ext extension.Extension, timeout time.Duration) (bool, error) {
	if _, _, err := c.current(); err != nil {
		return false, err
	}
	state, err := c.lifecycle.Disable(ctx, ext, timeout)
	return state == lifecycle.Confirmed, err
}

// EnableExtension enables a disabled extension and reports whether the broker confirmed it within
// timeout. A non-positive timeout means 60 seconds.
func (c *Container) EnableExtension(ctx context.Context, ext extension.Extension, timeout time.Duration) (bool, error) {
	if _, _, err := c.current(); err != nil {
		return false, err
	}
	state, err := c.lifecycle.Enable(ctx, ext, timeout)
	return state == lifecycle.Confirmed, err
}

// Expectations returns the registry matching the broker's output.
func (c *Container) Expectations() *expect.Registry {
	return c.registry
}

// Subscribe delivers every future line of broker output to consumer until the returned function
// is called.
func (c *Container) Subscribe(consumer logstream.Consumer) (unsubscribe func()) {
	return c.output.Subscribe(consumer)
}

// SetSilent toggles echoing the broker's output.
func (c *Container) SetSilent(silent bool) {
	c.printer.SetSilent(silent)
}

type containerTarget struct {
	c *dockermanage.Container
}

func (t containerTarget) Host() string { return t.c.Host }

func (t containerTarget) MappedPort(port int) (int, error) { return t.c.MappedPort(port) }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
