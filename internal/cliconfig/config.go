// Package cliconfig resolves the configuration of the hivemq-testcontainer command from flags,
// environment variables and an optional TOML file.
package cliconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/hivemq/hivemq-testcontainer"
)

// EnvPrefix prefixes every environment variable read by the command.
const EnvPrefix = "HIVEMQ_TC_"

// Config holds CLI configuration.
type Config struct {
	Image string
	Tag   string

	ExtensionDirs []string
	License       string
	HiveMQConfig  string

	DebugPort         int
	ControlCenterPort int
	LogLevel          string

	StartupTimeout time.Duration
	Silent         bool
	LogPatterns    []string
	Verbose        bool

	// Probe settings.
	Host         string
	Port         int
	ProbeTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Image:          hivemq.DefaultImage,
		Tag:            hivemq.DefaultTag,
		StartupTimeout: 2 * time.Minute,
		Host:           "127.0.0.1",
		Port:           hivemq.MQTTPort,
		ProbeTimeout:   30 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Image) == "" {
		errs = append(errs, errors.New("image is required"))
	}
	if c.StartupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("startup timeout must be positive: %v", c.StartupTimeout))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("probe timeout must be positive: %v", c.ProbeTimeout))
	}
	for name, port := range map[string]int{
		"debug-port":          c.DebugPort,
		"control-center-port": c.ControlCenterPort,
		"port":                c.Port,
	} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s must be in range 0-65535: %d", name, port))
		}
	}
	return multierr.Combine(errs...)
}

// configSetter applies values unless the corresponding flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setStrings(flag string, values []string, dst *[]string) {
	if len(values) == 0 || s.changed[flag] {
		return
	}
	*dst = values
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setInt(flag, i, dst)
	return nil
}

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}
