package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultServer = "http://localhost:8080"

// Config is the boardctl configuration file.
type Config struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token,omitempty"`
	Email  string `yaml:"email,omitempty"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/boardctl/config.yaml, falling
// back to the platform user config directory.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, "boardctl", "config.yaml"), nil
}

// LoadConfig reads the config at path. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{Server: defaultServer}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, readable by the owner only since it holds
// the session token.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
