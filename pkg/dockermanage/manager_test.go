package dockermanage_test

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemq/hivemq-testcontainer/pkg/dockermanage"
)

const testImage = "hivemq/hivemq-ce:latest"

func newManager(t *testing.T) *dockermanage.Manager {
	t.Helper()
	if os.Getenv("HIVEMQ_TC_DOCKER") == "" {
		t.Skip("set HIVEMQ_TC_DOCKER=1 to run tests against a Docker daemon")
	}
	m, err := dockermanage.NewManager(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, m.Close())
	})
	return m
}

func TestStartCopyExecLogs(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	ctx := t.Context()

	hostFile := filepath.Join(t.TempDir(), "config.xml")
	require.NoError(t, os.WriteFile(hostFile, []byte("<hivemq/>"), 0o644))

	c, err := m.Start(ctx,
		dockermanage.WithImage(testImage),
		dockermanage.WithContainerPortTCP(1883),
		dockermanage.WithCopy(hostFile, "/opt/hivemq/conf/config.xml"),
		dockermanage.WithEnvVars([]string{"GREETING=hello"}),
		dockermanage.WithLabel("test", t.Name()),
	)
	if err == nil {
		t.Cleanup(func() {
			assert.NoError(t, m.Remove(context.WithoutCancel(ctx), c.ID))
		})
	}
	require.NoError(t, err)
	require.Contains(t, c.Ports, 1883)

	port, err := c.MappedPort(1883)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.Host, strconv.Itoa(port)))
		if err != nil {
			return false
		}
		return conn.Close() == nil
	}, time.Minute, 500*time.Millisecond)

	var stdout bytes.Buffer
	res, err := m.Exec(ctx, c.ID, dockermanage.ExecOptions{
		Cmd:    []string{"cat", "/opt/hivemq/conf/config.xml"},
		Stdout: &stdout,
	})
	require.NoError(t, err)
	require.Zero(t, res.ExitCode)
	require.Equal(t, "<hivemq/>", stdout.String())

	res, err = m.Exec(ctx, c.ID, dockermanage.ExecOptions{Cmd: []string{"sh", "-c", "exit 3"}})
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)

	logCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var logs bytes.Buffer
	require.NoError(t, m.FollowLogs(logCtx, c.ID, &logs, &logs))
	require.NotZero(t, logs.Len())

	ids, err := m.ListManaged(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, c.ID)
}
