package hivemq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemq/hivemq-testcontainer/extension"
	"github.com/hivemq/hivemq-testcontainer/logstream"
	"github.com/hivemq/hivemq-testcontainer/pkg/dockermanage"
	"github.com/hivemq/hivemq-testcontainer/wait"
)

const fakeID = "0123456789abcdef0123"

// fakeRuntime plays a broker: it prints a startup banner and confirms extension transitions the
// way HiveMQ enterprise images do.
type fakeRuntime struct {
	banner []string
	exts   map[string]extension.Extension

	lines chan string

	mu       sync.Mutex
	started  int
	removed  []string
	stopped  []string
	cmds     [][]string
	disabled map[string]bool
	exitCode int
}

func newFakeRuntime(banner ...string) *fakeRuntime {
	return &fakeRuntime{
		banner:   banner,
		exts:     make(map[string]extension.Extension),
		lines:    make(chan string, 16),
		disabled: make(map[string]bool),
	}
}

func (f *fakeRuntime) Start(context.Context, ...dockermanage.Option) (*dockermanage.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return &dockermanage.Container{
		ID:    fakeID,
		Image: DefaultImage + ":" + DefaultTag,
		Host:  "127.0.0.1",
		Ports: map[int]int{MQTTPort: 41883},
	}, nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) Exec(_ context.Context, _ string, opts dockermanage.ExecOptions) (*dockermanage.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, opts.Cmd)
	if f.exitCode != 0 {
		fmt.Fprintln(opts.Stderr, "permission denied")
		return &dockermanage.ExecResult{ExitCode: f.exitCode}, nil
	}

	marker := opts.Cmd[len(opts.Cmd)-1]
	id := filepath.Base(filepath.Dir(marker))
	ext, ok := f.exts[id]
	if !ok {
		return &dockermanage.ExecResult{}, nil
	}
	switch {
	case opts.Cmd[0] == "touch" && !f.disabled[id]:
		f.disabled[id] = true
		f.lines <- fmt.Sprintf("Extension %q version %s stopped successfully.", ext.Name, ext.Version)
	case opts.Cmd[0] == "rm" && f.disabled[id]:
		f.disabled[id] = false
		f.lines <- fmt.Sprintf("Extension %q version %s started successfully.", ext.Name, ext.Version)
	}
	return &dockermanage.ExecResult{}, nil
}

func (f *fakeRuntime) FollowLogs(ctx context.Context, _ string, stdout, _ io.Writer) error {
	for _, line := range f.banner {
		fmt.Fprintln(stdout, line)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-f.lines:
			fmt.Fprintln(stdout, line)
		}
	}
}

func newTestContainer(t *testing.T, rt *fakeRuntime, opts ...Option) *Container {
	t.Helper()
	opts = append([]Option{WithOutput(io.Discard), WithStartupTimeout(5 * time.Second)}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	c.rt = rt
	t.Cleanup(func() {
		assert.NoError(t, c.Stop(context.Background()))
	})
	return c
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime("Starting HiveMQ Community Edition", "Started HiveMQ in 1234ms")
	var out bytes.Buffer
	c := newTestContainer(t, rt,
		WithWaitStrategy(wait.ForLog(StartedPattern)),
		WithOutput(&out),
	)

	require.Empty(t, c.ID())
	_, err := c.MQTTPort()
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, c.Start(t.Context()))
	require.Equal(t, fakeID, c.ID())
	require.Equal(t, "127.0.0.1", c.Host())
	port, err := c.MQTTPort()
	require.NoError(t, err)
	require.Equal(t, 41883, port)
	require.Equal(t, 0, c.Expectations().Len())

	require.ErrorIs(t, c.Start(t.Context()), ErrAlreadyStarted)

	require.NoError(t, c.Stop(t.Context()))
	require.Equal(t, []string{fakeID}, rt.removed)
	require.Empty(t, c.ID())
	require.Contains(t, out.String(), "Started HiveMQ in 1234ms\n")

	require.NoError(t, c.Stop(t.Context()))
	require.Len(t, rt.removed, 1)
}

func TestStartRequiresTimeout(t *testing.T) {
	t.Parallel()

	c, err := New(WithOutput(io.Discard))
	require.NoError(t, err)
	c.rt = newFakeRuntime()
	require.ErrorIs(t, c.Start(context.Background()), ErrNoStartupTimeout)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	c2, err := New(WithOutput(io.Discard), WithWaitStrategy(wait.ForLog("ready")))
	require.NoError(t, err)
	rt := newFakeRuntime("ready")
	c2.rt = rt
	require.NoError(t, c2.Start(ctx))
	require.NoError(t, c2.Stop(ctx))
}

func TestStartAbortsWhenNotReady(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime("Starting HiveMQ")
	c := newTestContainer(t, rt,
		WithWaitStrategy(wait.ForLog(StartedPattern).WithTimeout(100*time.Millisecond)),
	)

	err := c.Start(t.Context())
	require.ErrorIs(t, err, wait.ErrNotReady)
	require.Equal(t, []string{fakeID}, rt.removed)
	require.Empty(t, c.ID())
	require.Equal(t, 0, c.Expectations().Len())
}

func TestStartWithMultipleStrategies(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime("Started HiveMQ in 10ms")
	var broker string
	mqttWait := wait.ForMQTT().WithInitialWait(0).WithConnectFunc(func(_ context.Context, b, _ string) error {
		broker = b
		return nil
	})
	c := newTestContainer(t, rt, WithWaitStrategy(mqttWait), WithWaitStrategy(wait.ForLog(StartedPattern)))

	require.NoError(t, c.Start(t.Context()))
	require.Equal(t, "tcp://127.0.0.1:41883", broker)
}

func TestExtensionTransitions(t *testing.T) {
	t.Parallel()

	ext := extension.Extension{ID: "modifier", Name: "Modifier Extension", Version: "4.0.0"}
	rt := newFakeRuntime("ready")
	rt.exts[ext.ID] = ext
	c := newTestContainer(t, rt, WithWaitStrategy(wait.ForLog("ready")))

	_, err := c.DisableExtension(t.Context(), ext, time.Second)
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, c.Start(t.Context()))

	ok, err := c.DisableExtension(t.Context(), ext, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.DisableExtension(t.Context(), ext, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.EnableExtension(t.Context(), ext, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{"touch", "/opt/hivemq/extensions/modifier/DISABLED"}, rt.cmds[0])
	require.Equal(t, []string{"rm", "-rf", "/opt/hivemq/extensions/modifier/DISABLED"}, rt.cmds[2])
}

func TestExecOneShotExitCode(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime("ready")
	c := newTestContainer(t, rt, WithWaitStrategy(wait.ForLog("ready")))
	require.NoError(t, c.Start(t.Context()))

	rt.exitCode = 1
	err := c.ExecOneShot(t.Context(), "touch", "/opt/hivemq/extensions/x/DISABLED")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, 1, cmdErr.ExitCode)
	require.Contains(t, cmdErr.Error(), "permission denied")

	ok, err := c.DisableExtension(t.Context(), extension.Extension{ID: "x", Name: "X", Version: "1"}, time.Second)
	require.ErrorAs(t, err, &cmdErr)
	require.False(t, ok)
}

func TestStopReleasesExpectations(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime("ready")
	c := newTestContainer(t, rt, WithWaitStrategy(wait.ForLog("ready")))
	require.NoError(t, c.Start(t.Context()))

	h, err := c.Expectations().RegisterPattern("never printed")
	require.NoError(t, err)
	done := make(chan bool)
	go func() { done <- c.Expectations().AwaitOne(h, time.Minute) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Stop(t.Context()))
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by Stop")
	}
	require.Equal(t, 0, c.Expectations().Len())
}

func TestSubscribeAndSilence(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime("line one", "line two", "ready")
	var out bytes.Buffer
	c := newTestContainer(t, rt, WithWaitStrategy(wait.ForLog("ready")), WithOutput(&out), WithSilent(true))

	var (
		mu    sync.Mutex
		lines []string
	)
	unsubscribe := c.Subscribe(logstream.ConsumerFunc(func(f logstream.Frame) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, strings.TrimSpace(f.Text()))
	}))
	defer unsubscribe()

	require.NoError(t, c.Start(t.Context()))
	// The startup gate fires while the ready line is still being delivered.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 3
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"line one", "line two", "ready"}, lines)
	mu.Unlock()
	require.Zero(t, out.Len())
}

func TestFileOptionsUseBaseName(t *testing.T) {
	t.Parallel()

	host := filepath.Join(t.TempDir(), "nested", "users.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(host), 0o755))
	require.NoError(t, os.WriteFile(host, []byte("<users/>"), 0o644))

	c, err := New(
		WithFileInHomeFolder(host, "conf"),
		WithFileInExtensionHomeFolder(host, "ext", "/conf/"),
	)
	require.NoError(t, err)
	require.Equal(t, []fileCopy{
		{hostPath: host, containerPath: "/opt/hivemq/conf/users.xml"},
		{hostPath: host, containerPath: "/opt/hivemq/extensions/ext/conf/users.xml"},
	}, c.cfg.files)
}

func TestStagedFilesAreRemoved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tmpl := filepath.Join(dir, "config.xml")
	require.NoError(t, os.WriteFile(tmpl, []byte("<port>${MQTT_PORT}</port>"), 0o644))
	archive := filepath.Join(dir, "ext.jar")
	require.NoError(t, os.WriteFile(archive, []byte("jar"), 0o644))

	rt := newFakeRuntime("ready")
	c := newTestContainer(t, rt,
		WithWaitStrategy(wait.ForLog("ready")),
		WithHiveMQConfigTemplate(tmpl, map[string]string{"MQTT_PORT": "1884"}),
		WithExtension(extension.Extension{ID: "ext", Name: "Ext", Version: "1"}, archive),
	)
	require.NoError(t, c.Start(t.Context()))

	staging := c.stagingDir
	require.NotEmpty(t, staging)
	data, err := os.ReadFile(filepath.Join(staging, "0-config.xml"))
	require.NoError(t, err)
	require.Equal(t, "<port>1884</port>", string(data))
	require.Len(t, c.closers, 1)

	require.NoError(t, c.Stop(t.Context()))
	_, err = os.Stat(staging)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Empty(t, c.closers)
}
