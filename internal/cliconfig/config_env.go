package cliconfig

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// LoadDotEnv loads variables from a .env file without overriding the process environment. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnvConfig applies HIVEMQ_TC_* variables to cfg, skipping flags present in changed.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("image", os.Getenv(EnvPrefix+"IMAGE"), &cfg.Image)
	s.setString("tag", os.Getenv(EnvPrefix+"TAG"), &cfg.Tag)
	s.setStrings("extension-dir", splitList(os.Getenv(EnvPrefix+"EXTENSION_DIRS")), &cfg.ExtensionDirs)
	s.setString("license", os.Getenv(EnvPrefix+"LICENSE"), &cfg.License)
	s.setString("config", os.Getenv(EnvPrefix+"CONFIG"), &cfg.HiveMQConfig)
	s.setString("log-level", os.Getenv(EnvPrefix+"LOG_LEVEL"), &cfg.LogLevel)
	s.setString("host", os.Getenv(EnvPrefix+"HOST"), &cfg.Host)
	if p := os.Getenv(EnvPrefix + "LOG_PATTERN"); p != "" {
		s.setStrings("log-pattern", []string{p}, &cfg.LogPatterns)
	}

	var errs []error
	errs = append(errs,
		s.setIntFromString("debug-port", os.Getenv(EnvPrefix+"DEBUG_PORT"), &cfg.DebugPort),
		s.setIntFromString("control-center-port", os.Getenv(EnvPrefix+"CONTROL_CENTER_PORT"), &cfg.ControlCenterPort),
		s.setIntFromString("port", os.Getenv(EnvPrefix+"PORT"), &cfg.Port),
		s.setDuration("startup-timeout", os.Getenv(EnvPrefix+"STARTUP_TIMEOUT"), &cfg.StartupTimeout),
		s.setDuration("timeout", os.Getenv(EnvPrefix+"PROBE_TIMEOUT"), &cfg.ProbeTimeout),
		s.setBoolFromString("silent", os.Getenv(EnvPrefix+"SILENT"), &cfg.Silent),
		s.setBoolFromString("verbose", os.Getenv(EnvPrefix+"VERBOSE"), &cfg.Verbose),
	)
	return multierr.Combine(errs...)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
