package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoConfig is returned by Resolve when no explicit path was given and no
// default location holds a config file.
var ErrNoConfig = errors.New("no config file found")

// DefaultConfigPaths returns the search order for config files.
func DefaultConfigPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "smbdoctor", "config.yaml"))
	}
	paths = append(paths, "/etc/smbdoctor/config.yaml")
	return paths
}

// Resolve loads the config from the given explicit path, or searches the
// default locations. It fills in Hostname from os.Hostname() if empty.
func Resolve(explicit string) (*Config, error) {
	path, err := FindPath(explicit)
	if err != nil {
		return nil, err
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := fillHostname(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveOrEmpty is Resolve, except that a missing default config yields an
// empty Config so ad-hoc diagnostics work without one.
func ResolveOrEmpty(explicit string) (*Config, error) {
	cfg, err := Resolve(explicit)
	if errors.Is(err, ErrNoConfig) {
		cfg = &Config{}
		return cfg, fillHostname(cfg)
	}
	return cfg, err
}

func fillHostname(cfg *Config) error {
	if cfg.Hostname != "" {
		return nil
	}
	h, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("resolving hostname: %w", err)
	}
	cfg.Hostname = h
	return nil
}

// FindPath returns explicit if it exists, else the first default location
// holding a config file.
func FindPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched %v)", ErrNoConfig, DefaultConfigPaths())
}
