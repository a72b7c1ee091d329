package dockermanage

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/moby/moby/api/types/network"
)

const (
	// DefaultHostIP is the default host IP used for port bindings.
	DefaultHostIP = "127.0.0.1"

	// ManagedLabelKey marks containers created by this package. The value names the kind of
	// container, for example "hivemq".
	ManagedLabelKey = "com.hivemq.testcontainer"
)

// Option configures container start behavior.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(cfg *config) error {
	return f(cfg)
}

type portSpec struct {
	number   int
	port     network.Port
	hostPort int
}

type copySpec struct {
	hostPath      string
	containerPath string
}

type config struct {
	name         string
	image        string
	ports        []portSpec
	hostIP       string
	envVars      []string
	autoRemove   bool
	pullProgress io.Writer
	labels       map[string]string
	copies       []copySpec
}

func defaultConfig() *config {
	return &config{
		hostIP:  DefaultHostIP,
		envVars: []string{},
		labels: map[string]string{
			ManagedLabelKey: "",
		},
	}
}

func (cfg *config) addPort(spec portSpec) {
	for i, existing := range cfg.ports {
		if existing.port == spec.port {
			cfg.ports[i] = spec
			return
		}
	}
	cfg.ports = append(cfg.ports, spec)
}

// WithName sets the container name.
func WithName(name string) Option {
	return optionFunc(func(cfg *config) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("container name must not be empty")
		}
		cfg.name = name
		return nil
	})
}

// WithImage sets the container image, for example hivemq/hivemq-ce:latest.
func WithImage(image string) Option {
	return optionFunc(func(cfg *config) error {
		image = strings.TrimSpace(image)
		if image == "" {
			return errors.New("image must not be empty")
		}
		cfg.image = image
		return nil
	})
}

// WithContainerPort exposes a container port such as "1883/tcp" on a random host port.
func WithContainerPort(port string) Option {
	return optionFunc(func(cfg *config) error {
		p, err := network.ParsePort(port)
		if err != nil {
			return fmt.Errorf("invalid container port: %w", err)
		}
		num, _, _ := strings.Cut(port, "/")
		n, err := strconv.Atoi(num)
		if err != nil {
			return fmt.Errorf("invalid container port number %q: %w", num, err)
		}
		cfg.addPort(portSpec{number: n, port: p})
		return nil
	})
}

// WithContainerPortTCP exposes a TCP container port on a random host port.
func WithContainerPortTCP(port int) Option {
	return optionFunc(func(cfg *config) error {
		p, err := tcpPort(port)
		if err != nil {
			return err
		}
		cfg.addPort(portSpec{number: port, port: p})
		return nil
	})
}

// WithFixedPortTCP exposes a TCP container port on a fixed host port. Debuggers and browsers need
// a predictable address, so the debug and control center ports are bound this way.
func WithFixedPortTCP(containerPort, hostPort int) Option {
	return optionFunc(func(cfg *config) error {
		p, err := tcpPort(containerPort)
		if err != nil {
			return err
		}
		if hostPort <= 0 || hostPort > 65535 {
			return fmt.Errorf("host port must be in range 1-65535: %d", hostPort)
		}
		cfg.addPort(portSpec{number: containerPort, port: p, hostPort: hostPort})
		return nil
	})
}

func tcpPort(port int) (network.Port, error) {
	if port <= 0 || port > 65535 {
		return network.Port{}, fmt.Errorf("container port must be in range 1-65535: %d", port)
	}
	p, ok := network.PortFrom(uint16(port), network.TCP)
	if !ok {
		return network.Port{}, fmt.Errorf("invalid container port: %d", port)
	}
	return p, nil
}

// WithHostIP sets the host IP to bind container ports to.
func WithHostIP(hostIP string) Option {
	return optionFunc(func(cfg *config) error {
		hostIP = strings.TrimSpace(hostIP)
		if hostIP == "" {
			return errors.New("host IP must not be empty")
		}
		cfg.hostIP = hostIP
		return nil
	})
}

// WithEnv appends a single environment variable.
func WithEnv(key, value string) Option {
	return optionFunc(func(cfg *config) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("env key must not be empty")
		}
		if strings.Contains(key, "=") {
			return fmt.Errorf("env key must not contain '=': %s", key)
		}
		cfg.envVars = append(cfg.envVars, key+"="+value)
		return nil
	})
}

// WithEnvVars appends environment variables in KEY=VALUE format.
func WithEnvVars(envVars []string) Option {
	return optionFunc(func(cfg *config) error {
		for _, kv := range envVars {
			if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("env var must be in KEY=VALUE format: %q", kv)
			}
		}
		cfg.envVars = append(cfg.envVars, slices.Clone(envVars)...)
		return nil
	})
}

// WithAutoRemove configures Docker AutoRemove behavior.
func WithAutoRemove(autoRemove bool) Option {
	return optionFunc(func(cfg *config) error {
		cfg.autoRemove = autoRemove
		return nil
	})
}

// WithPullProgress sets where image pull output is streamed.
func WithPullProgress(w io.Writer) Option {
	return optionFunc(func(cfg *config) error {
		cfg.pullProgress = w
		return nil
	})
}

// WithLabel sets a single container label.
func WithLabel(key, value string) Option {
	return optionFunc(func(cfg *config) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("label key must not be empty")
		}
		cfg.labels[key] = value
		return nil
	})
}

// WithLabels merges labels into container labels.
func WithLabels(labels map[string]string) Option {
	return optionFunc(func(cfg *config) error {
		for key, value := range maps.Clone(labels) {
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("label key must not be empty")
			}
			cfg.labels[key] = value
		}
		return nil
	})
}

// WithCopy copies a host file or directory to an absolute path in the container before it starts.
// A directory is copied as a whole, so its contents end up below containerPath.
func WithCopy(hostPath, containerPath string) Option {
	return optionFunc(func(cfg *config) error {
		if hostPath == "" {
			return errors.New("copy source must not be empty")
		}
		if !path.IsAbs(containerPath) || path.Clean(containerPath) == "/" {
			return fmt.Errorf("copy destination must be an absolute path below /: %q", containerPath)
		}
		cfg.copies = append(cfg.copies, copySpec{hostPath: hostPath, containerPath: containerPath})
		return nil
	})
}
