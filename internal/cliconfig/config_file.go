package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with TOML friendly types.
type FileConfig struct {
	Image             string   `toml:"image"`
	Tag               string   `toml:"tag"`
	ExtensionDirs     []string `toml:"extension_dirs"`
	License           string   `toml:"license"`
	HiveMQConfig      string   `toml:"config"`
	DebugPort         int      `toml:"debug_port"`
	ControlCenterPort int      `toml:"control_center_port"`
	LogLevel          string   `toml:"log_level"`
	StartupTimeout    string   `toml:"startup_timeout"`
	Silent            *bool    `toml:"silent"`
	LogPatterns       []string `toml:"log_patterns"`
	Verbose           *bool    `toml:"verbose"`
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	ProbeTimeout      string   `toml:"probe_timeout"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.hivemq-testcontainer/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".hivemq-testcontainer", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies file values to cfg, skipping flags present in changed.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("image", fc.Image, &cfg.Image)
	s.setString("tag", fc.Tag, &cfg.Tag)
	s.setStrings("extension-dir", fc.ExtensionDirs, &cfg.ExtensionDirs)
	s.setString("license", fc.License, &cfg.License)
	s.setString("config", fc.HiveMQConfig, &cfg.HiveMQConfig)
	s.setInt("debug-port", fc.DebugPort, &cfg.DebugPort)
	s.setInt("control-center-port", fc.ControlCenterPort, &cfg.ControlCenterPort)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBool("silent", fc.Silent, &cfg.Silent)
	s.setStrings("log-pattern", fc.LogPatterns, &cfg.LogPatterns)
	s.setBool("verbose", fc.Verbose, &cfg.Verbose)
	s.setString("host", fc.Host, &cfg.Host)
	s.setInt("port", fc.Port, &cfg.Port)

	if err := s.setDuration("startup-timeout", fc.StartupTimeout, &cfg.StartupTimeout); err != nil {
		return err
	}
	return s.setDuration("timeout", fc.ProbeTimeout, &cfg.ProbeTimeout)
}

// FileExists reports whether a file exists at p.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
