package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/hivemq/hivemq-testcontainer"
	"github.com/hivemq/hivemq-testcontainer/internal/cliconfig"
	"github.com/hivemq/hivemq-testcontainer/pkg/dockermanage"
	"github.com/hivemq/hivemq-testcontainer/wait"
)

var exampleUsage = strings.TrimSpace(`
  hivemq-testcontainer run --extension-dir ./build/my-extension --log-level DEBUG
  hivemq-testcontainer run --image hivemq/hivemq4 --license ./license.lic --control-center-port 8080
  hivemq-testcontainer probe --host 127.0.0.1 --port 1883 --timeout 10s
  hivemq-testcontainer cleanup
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "hivemq-testcontainer",
		Short:         "Run disposable HiveMQ brokers for local testing",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config-file", "", "TOML config file (default $HOME/.hivemq-testcontainer/config.toml)")
	root.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")

	// resolve layers the file, the environment and explicitly set flags, in increasing priority.
	resolve := func(cmd *cobra.Command) error {
		if err := cliconfig.LoadDotEnv(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}
		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return err
			}
		}
		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return err
		}
		return cfg.Validate()
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Start a broker and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}
			return runBroker(cmd.Context(), cfg)
		},
	}
	f := run.Flags()
	f.StringVar(&cfg.Image, "image", cfg.Image, "broker image")
	f.StringVar(&cfg.Tag, "tag", cfg.Tag, "broker image tag")
	f.StringArrayVar(&cfg.ExtensionDirs, "extension-dir", nil, "extension folder to copy into the broker (repeatable)")
	f.StringVar(&cfg.License, "license", "", "license file (.lic or .elic)")
	f.StringVar(&cfg.HiveMQConfig, "config", "", "config.xml to use instead of the image default")
	f.IntVar(&cfg.DebugPort, "debug-port", 0, "host port for the JVM debug agent (disabled when 0)")
	f.IntVar(&cfg.ControlCenterPort, "control-center-port", 0, "host port for the control center (disabled when 0)")
	f.StringVar(&cfg.LogLevel, "log-level", "", "broker log level (ALL, TRACE, DEBUG, INFO, WARN, ERROR, OFF)")
	f.DurationVar(&cfg.StartupTimeout, "startup-timeout", cfg.StartupTimeout, "maximum time to wait for the broker to start")
	f.BoolVar(&cfg.Silent, "silent", false, "do not echo broker output")
	f.StringArrayVar(&cfg.LogPatterns, "log-pattern", nil, "additional output pattern that must appear before the broker counts as ready (repeatable)")

	probe := &cobra.Command{
		Use:   "probe",
		Short: "Wait until an MQTT broker accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}
			return probeBroker(cmd.Context(), cfg)
		},
	}
	probe.Flags().StringVar(&cfg.Host, "host", cfg.Host, "broker host")
	probe.Flags().IntVar(&cfg.Port, "port", cfg.Port, "broker port")
	probe.Flags().DurationVar(&cfg.ProbeTimeout, "timeout", cfg.ProbeTimeout, "maximum time to wait")

	var stopOnly bool
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove broker containers left behind by crashed test runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (retErr error) {
			if err := resolve(cmd); err != nil {
				return err
			}
			m, err := dockermanage.NewManager(cliconfig.NewLogger(os.Stderr, cfg.Verbose))
			if err != nil {
				return err
			}
			defer func() {
				retErr = multierr.Append(retErr, m.Close())
			}()
			return cleanupBrokers(cmd.Context(), cmd.OutOrStdout(), m, stopOnly)
		},
	}
	cleanup.Flags().BoolVar(&stopOnly, "stop-only", false, "stop the containers but keep them for inspection")

	root.AddCommand(run, probe, cleanup)
	return root
}

func brokerOptions(cfg cliconfig.Config, logger *slog.Logger) []hivemq.Option {
	opts := []hivemq.Option{
		hivemq.WithImage(cfg.Image, cfg.Tag),
		hivemq.WithLogger(logger),
		hivemq.WithStartupTimeout(cfg.StartupTimeout),
		hivemq.WithSilent(cfg.Silent),
		hivemq.WithOutput(os.Stdout),
		hivemq.WithWaitStrategy(wait.ForMQTT().WithLogger(logger)),
	}
	if len(cfg.LogPatterns) > 0 {
		opts = append(opts, hivemq.WithWaitStrategy(wait.ForLog(cfg.LogPatterns...)))
	}
	for _, dir := range cfg.ExtensionDirs {
		opts = append(opts, hivemq.WithExtensionDir(dir))
	}
	if cfg.License != "" {
		opts = append(opts, hivemq.WithLicense(cfg.License))
	}
	if cfg.HiveMQConfig != "" {
		opts = append(opts, hivemq.WithHiveMQConfig(cfg.HiveMQConfig))
	}
	if cfg.DebugPort > 0 {
		opts = append(opts, hivemq.WithDebugging(cfg.DebugPort))
	}
	if cfg.ControlCenterPort > 0 {
		opts = append(opts, hivemq.WithControlCenter(cfg.ControlCenterPort))
	}
	if cfg.LogLevel != "" {
		opts = append(opts, hivemq.WithLogLevel(cfg.LogLevel))
	}
	return opts
}

func runBroker(ctx context.Context, cfg cliconfig.Config) (retErr error) {
	logger := cliconfig.NewLogger(os.Stderr, cfg.Verbose)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := hivemq.New(brokerOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		retErr = multierr.Append(retErr, c.Stop(stopCtx))
	}()
	if err := c.Start(ctx); err != nil {
		return err
	}

	port, err := c.MQTTPort()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "HiveMQ is ready at tcp://%s:%d (container %s)\n", c.Host(), port, c.ID())
	<-ctx.Done()
	logger.Info("received signal, stopping broker")
	return nil
}

type managedContainers interface {
	ListManaged(ctx context.Context) ([]string, error)
	StopManaged(ctx context.Context) error
	RemoveManaged(ctx context.Context) error
}

func cleanupBrokers(ctx context.Context, w io.Writer, m managedContainers, stopOnly bool) error {
	ids, err := m.ListManaged(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "no broker containers found")
		return nil
	}
	verb := "removed"
	if stopOnly {
		verb = "stopped"
		err = m.StopManaged(ctx)
	} else {
		err = m.RemoveManaged(ctx)
	}
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintf(w, "%s %s\n", verb, id[:min(12, len(id))])
	}
	return nil
}

func probeBroker(ctx context.Context, cfg cliconfig.Config) error {
	logger := cliconfig.NewLogger(os.Stderr, cfg.Verbose)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	s := wait.ForMQTT().WithInitialWait(0).WithTimeout(cfg.ProbeTimeout).WithLogger(logger)
	if err := s.Wait(ctx, wait.StaticTarget{Address: cfg.Host, Port: cfg.Port}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "broker at %s:%d accepted a connection after %s\n", cfg.Host, cfg.Port, time.Since(start).Round(time.Millisecond))
	return nil
}
