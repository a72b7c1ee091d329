package hivemq

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mfridman/interpolate"

	"github.com/hivemq/hivemq-testcontainer/extension"
	"github.com/hivemq/hivemq-testcontainer/internal/containerpath"
	"github.com/hivemq/hivemq-testcontainer/pkg/dockermanage"
	"github.com/hivemq/hivemq-testcontainer/wait"
)

const (
	DefaultImage = "hivemq/hivemq-ce"
	DefaultTag   = "latest"

	MQTTPort          = 1883
	DebuggingPort     = 9000
	ControlCenterPort = 8080

	// StartedPattern matches the line HiveMQ logs once it finished starting.
	StartedPattern = "Started HiveMQ in"
)

var logLevels = []string{"ALL", "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "OFF"}

// Option configures a Container.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(cfg *config) error {
	return f(cfg)
}

type fileCopy struct {
	hostPath      string
	containerPath string
}

// renderedFile is written into the staging folder at start.
type renderedFile struct {
	name          string
	content       []byte
	containerPath string
}

type extensionSource struct {
	id       string
	supplier extension.Supplier
}

type config struct {
	image string
	tag   string

	manager        *dockermanage.Manager
	logger         *slog.Logger
	startupTimeout time.Duration
	strategies     []wait.Strategy

	env        []string
	fixedPorts map[int]int
	files      []fileCopy
	rendered   []renderedFile
	extensions []extensionSource

	output io.Writer
	silent bool
}

func defaultConfig() *config {
	return &config{
		image:      DefaultImage,
		tag:        DefaultTag,
		fixedPorts: make(map[int]int),
		output:     os.Stdout,
	}
}

func (cfg *config) imageRef() string {
	return cfg.image + ":" + cfg.tag
}

func (cfg *config) setEnv(key, value string) {
	prefix := key + "="
	for i, kv := range cfg.env {
		if strings.HasPrefix(kv, prefix) {
			cfg.env[i] = prefix + value
			return
		}
	}
	cfg.env = append(cfg.env, prefix+value)
}

func (cfg *config) addExtension(id string, s extension.Supplier) error {
	for _, e := range cfg.extensions {
		if e.id == id {
			return fmt.Errorf("extension %q added twice", id)
		}
	}
	cfg.extensions = append(cfg.extensions, extensionSource{id: id, supplier: s})
	return nil
}

func statRegular(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// WithImage sets the broker image. An empty tag means "latest". Enterprise images such as
// hivemq/hivemq4 are needed for enabling and disabling extensions at runtime.
func WithImage(image, tag string) Option {
	return optionFunc(func(cfg *config) error {
		image = strings.TrimSpace(image)
		if image == "" {
			return errors.New("image must not be empty")
		}
		tag = strings.TrimSpace(tag)
		if tag == "" {
			tag = DefaultTag
		}
		cfg.image, cfg.tag = image, tag
		return nil
	})
}

// WithManager uses m to run the container. By default a manager is created from the environment
// at start and closed at stop.
func WithManager(m *dockermanage.Manager) Option {
	return optionFunc(func(cfg *config) error {
		if m == nil {
			return errors.New("manager must not be nil")
		}
		cfg.manager = m
		return nil
	})
}

// WithLogger sets the logger for container diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(cfg *config) error {
		cfg.logger = logger
		return nil
	})
}

// WithStartupTimeout bounds Start, including image pull and readiness checks.
func WithStartupTimeout(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("startup timeout must be positive: %v", d)
		}
		cfg.startupTimeout = d
		return nil
	})
}

// WithWaitStrategy replaces the default MQTT readiness probe. Using the option more than once
// requires every strategy to succeed.
func WithWaitStrategy(s wait.Strategy) Option {
	return optionFunc(func(cfg *config) error {
		if s == nil {
			return errors.New("wait strategy must not be nil")
		}
		cfg.strategies = append(cfg.strategies, s)
		return nil
	})
}

// WithDebugging starts the broker's JVM with a remote debugging agent reachable on hostPort. A
// hostPort of 0 means 9000.
func WithDebugging(hostPort int) Option {
	return optionFunc(func(cfg *config) error {
		if hostPort == 0 {
			hostPort = DebuggingPort
		}
		if hostPort < 0 || hostPort > 65535 {
			return fmt.Errorf("debugging host port must be in range 1-65535: %d", hostPort)
		}
		cfg.fixedPorts[DebuggingPort] = hostPort
		cfg.setEnv("JAVA_OPTS", fmt.Sprintf(
			"-agentlib:jdwp=transport=dt_socket,address=0.0.0.0:%d,server=y,suspend=n", DebuggingPort,
		))
		return nil
	})
}

// WithLogLevel sets HIVEMQ_LOG_LEVEL, one of ALL, TRACE, DEBUG, INFO, WARN, ERROR or OFF.
func WithLogLevel(level string) Option {
	return optionFunc(func(cfg *config) error {
		level = strings.ToUpper(strings.TrimSpace(level))
		for _, l := range logLevels {
			if l == level {
				cfg.setEnv("HIVEMQ_LOG_LEVEL", level)
				return nil
			}
		}
		return fmt.Errorf("unknown log level %q", level)
	})
}

// WithControlCenter exposes the HiveMQ control center on hostPort. A hostPort of 0 means 8080.
func WithControlCenter(hostPort int) Option {
	return optionFunc(func(cfg *config) error {
		if hostPort == 0 {
			hostPort = ControlCenterPort
		}
		if hostPort < 0 || hostPort > 65535 {
			return fmt.Errorf("control center host port must be in range 1-65535: %d", hostPort)
		}
		cfg.fixedPorts[ControlCenterPort] = hostPort
		return nil
	})
}

// WithExtension stages an extension from its metadata and a prebuilt archive.
func WithExtension(ext extension.Extension, archivePath string) Option {
	return optionFunc(func(cfg *config) error {
		if err := ext.Validate(); err != nil {
			return err
		}
		if err := statRegular(archivePath); err != nil {
			return fmt.Errorf("extension archive: %w", err)
		}
		return cfg.addExtension(ext.ID, extension.Packaged(ext, archivePath))
	})
}

// WithExtensionDir copies an existing extension folder. The folder name is the extension id.
func WithExtensionDir(dir string) Option {
	return optionFunc(func(cfg *config) error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("extension folder: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", extension.ErrInvalid, dir)
		}
		s := extension.Dir(dir)
		return cfg.addExtension(s.ID(), s)
	})
}

// WithExtensionSupplier copies the folder produced by s at start into the folder of extension id.
func WithExtensionSupplier(id string, s extension.Supplier) Option {
	return optionFunc(func(cfg *config) error {
		if s == nil {
			return errors.New("extension supplier must not be nil")
		}
		if err := extension.ValidateID(id); err != nil {
			return err
		}
		return cfg.addExtension(id, s)
	})
}

// WithLicense copies a .lic or .elic license file into the license folder.
func WithLicense(path string) Option {
	return optionFunc(func(cfg *config) error {
		switch filepath.Ext(path) {
		case ".lic", ".elic":
		default:
			return fmt.Errorf("license file %s must end with .lic or .elic", path)
		}
		if err := statRegular(path); err != nil {
			return fmt.Errorf("license file: %w", err)
		}
		cfg.files = append(cfg.files, fileCopy{
			hostPath:      path,
			containerPath: containerpath.License + "/" + filepath.Base(path),
		})
		return nil
	})
}

// WithHiveMQConfig replaces the broker's config.xml.
func WithHiveMQConfig(path string) Option {
	return optionFunc(func(cfg *config) error {
		if err := statRegular(path); err != nil {
			return fmt.Errorf("hivemq config: %w", err)
		}
		cfg.files = append(cfg.files, fileCopy{hostPath: path, containerPath: containerpath.Config})
		return nil
	})
}

// WithHiveMQConfigTemplate replaces the broker's config.xml with the file at path after expanding
// ${VAR} references from env. A nil env uses the process environment.
func WithHiveMQConfigTemplate(path string, env map[string]string) Option {
	return optionFunc(func(cfg *config) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("hivemq config template: %w", err)
		}
		lookup := interpolate.NewSliceEnv(os.Environ())
		if env != nil {
			lookup = interpolate.NewMapEnv(env)
		}
		out, err := interpolate.Interpolate(lookup, string(data))
		if err != nil {
			return fmt.Errorf("expand hivemq config template %s: %w", path, err)
		}
		cfg.rendered = append(cfg.rendered, renderedFile{
			name:          "config.xml",
			content:       []byte(out),
			containerPath: containerpath.Config,
		})
		return nil
	})
}

// WithFileInHomeFolder copies a file into dir below the HiveMQ home folder.
func WithFileInHomeFolder(path, dir string) Option {
	return optionFunc(func(cfg *config) error {
		if err := statRegular(path); err != nil {
			return fmt.Errorf("file for home folder: %w", err)
		}
		cfg.files = append(cfg.files, fileCopy{hostPath: path, containerPath: containerpath.InHome(dir, filepath.Base(path))})
		return nil
	})
}

// WithFileInExtensionHomeFolder copies a file into dir below the folder of extension extensionID.
func WithFileInExtensionHomeFolder(path, extensionID, dir string) Option {
	return optionFunc(func(cfg *config) error {
		if strings.TrimSpace(extensionID) == "" {
			return errors.New("extension id must not be empty")
		}
		if err := statRegular(path); err != nil {
			return fmt.Errorf("file for extension folder: %w", err)
		}
		cfg.files = append(cfg.files, fileCopy{
			hostPath:      path,
			containerPath: containerpath.InExtensionHome(extensionID, dir, filepath.Base(path)),
		})
		return nil
	})
}

// WithEnv sets an environment variable in the container.
func WithEnv(key, value string) Option {
	return optionFunc(func(cfg *config) error {
		key = strings.TrimSpace(key)
		if key == "" || strings.Contains(key, "=") {
			return fmt.Errorf("invalid env key %q", key)
		}
		cfg.setEnv(key, value)
		return nil
	})
}

// WithOutput sets where the broker's output is echoed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return optionFunc(func(cfg *config) error {
		if w == nil {
			w = io.Discard
		}
		cfg.output = w
		return nil
	})
}

// WithSilent disables echoing the broker's output. It can be changed later with SetSilent.
func WithSilent(silent bool) Option {
	return optionFunc(func(cfg *config) error {
		cfg.silent = silent
		return nil
	})
}
