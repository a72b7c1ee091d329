package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hivemq/hivemq-testcontainer"
	"github.com/hivemq/hivemq-testcontainer/internal/cliconfig"
)

func TestBrokerOptions(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		_, err := hivemq.New(brokerOptions(cliconfig.DefaultConfig(), nil)...)
		require.NoError(t, err)
	})
	t.Run("all settings", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		ext := filepath.Join(dir, "my-extension")
		require.NoError(t, os.Mkdir(ext, 0o755))
		license := filepath.Join(dir, "test.lic")
		require.NoError(t, os.WriteFile(license, []byte("license"), 0o644))

		cfg := cliconfig.DefaultConfig()
		cfg.ExtensionDirs = []string{ext}
		cfg.License = license
		cfg.DebugPort = 9000
		cfg.ControlCenterPort = 18080
		cfg.LogLevel = "debug"
		cfg.LogPatterns = []string{hivemq.StartedPattern}
		_, err := hivemq.New(brokerOptions(cfg, nil)...)
		require.NoError(t, err)
	})
	t.Run("bad license extension", func(t *testing.T) {
		t.Parallel()
		license := filepath.Join(t.TempDir(), "license.txt")
		require.NoError(t, os.WriteFile(license, []byte("license"), 0o644))

		cfg := cliconfig.DefaultConfig()
		cfg.License = license
		_, err := hivemq.New(brokerOptions(cfg, nil)...)
		require.Error(t, err)
	})
}

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()

	root := newRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NotNil(t, run.Flags().Lookup("extension-dir"))
	require.NotNil(t, run.Flags().Lookup("log-pattern"))

	probe, _, err := root.Find([]string{"probe"})
	require.NoError(t, err)
	require.NotNil(t, probe.Flags().Lookup("timeout"))

	cleanup, _, err := root.Find([]string{"cleanup"})
	require.NoError(t, err)
	require.NotNil(t, cleanup.Flags().Lookup("stop-only"))
}

type fakeManaged struct {
	ids     []string
	stopped bool
	removed bool
	err     error
}

func (f *fakeManaged) ListManaged(context.Context) ([]string, error) { return f.ids, nil }

func (f *fakeManaged) StopManaged(context.Context) error {
	f.stopped = true
	return f.err
}

func (f *fakeManaged) RemoveManaged(context.Context) error {
	f.removed = true
	return f.err
}

func TestCleanupBrokers(t *testing.T) {
	t.Parallel()

	t.Run("removes leftovers", func(t *testing.T) {
		t.Parallel()
		m := &fakeManaged{ids: []string{"0123456789abcdef", "short"}}
		var out bytes.Buffer
		require.NoError(t, cleanupBrokers(t.Context(), &out, m, false))
		require.True(t, m.removed)
		require.False(t, m.stopped)
		require.Equal(t, "removed 0123456789ab\nremoved short\n", out.String())
	})
	t.Run("stop only", func(t *testing.T) {
		t.Parallel()
		m := &fakeManaged{ids: []string{"abc"}}
		var out bytes.Buffer
		require.NoError(t, cleanupBrokers(t.Context(), &out, m, true))
		require.True(t, m.stopped)
		require.False(t, m.removed)
		require.Equal(t, "stopped abc\n", out.String())
	})
	t.Run("nothing to do", func(t *testing.T) {
		t.Parallel()
		m := &fakeManaged{}
		var out bytes.Buffer
		require.NoError(t, cleanupBrokers(t.Context(), &out, m, false))
		require.False(t, m.removed)
		require.Equal(t, "no broker containers found\n", out.String())
	})
	t.Run("failure", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("daemon gone")
		m := &fakeManaged{ids: []string{"abc"}, err: boom}
		var out bytes.Buffer
		require.ErrorIs(t, cleanupBrokers(t.Context(), &out, m, false), boom)
		require.Zero(t, out.Len())
	})
}
