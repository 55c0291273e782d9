package runtimeconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DefaultBackend string          `yaml:"default_backend"`
	Docker         DockerConfig    `yaml:"docker"`
	Execution      ExecutionConfig `yaml:"execution"`
	History        HistoryConfig   `yaml:"history"`
}

type DockerConfig struct {
	// Host is the daemon endpoint (unix:// URL or absolute socket path).
	Host  string `yaml:"host"`
	Image string `yaml:"image"`
	User  string `yaml:"user"`
	// Volumes maps host paths to container paths bound into every container.
	Volumes map[string]string `yaml:"volumes"`
}

type ExecutionConfig struct {
	// TimeoutSeconds is carried on each handle and surfaced through its
	// timeout accessor. The starting wait bound is fixed and ignores it.
	TimeoutSeconds int64 `yaml:"timeout_seconds"`
	Daemon         bool  `yaml:"daemon"`
}

type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

func Path() (string, error) {
	configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if configHome != "" {
		return filepath.Join(configHome, "dockhand", "config.yaml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "dockhand", "config.yaml"), nil
}

// Load reads the runtime config. A missing file is not an error; the zero
// config is returned alongside the path that was checked.
func Load() (Config, string, error) {
	path, err := Path()
	if err != nil {
		return Config{}, "", err
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

func LoadFrom(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.DefaultBackend = strings.TrimSpace(cfg.DefaultBackend)
	cfg.Docker.Host = strings.TrimSpace(cfg.Docker.Host)
	cfg.Docker.Image = strings.TrimSpace(cfg.Docker.Image)
	return cfg, nil
}

const starterConfig = `# dockhand runtime configuration
default_backend: docker

docker:
  host: unix:///var/run/docker.sock
  image: ""
  user: ""
  volumes: {}

execution:
  timeout_seconds: 0
  daemon: false

history:
  disabled: false
`

// WriteStarter writes a commented starter config at path, refusing to
// overwrite an existing file.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(starterConfig), 0o644)
}
