package config

import (
	"fmt"
	"os"

	"github.com/a8m/envsubst"
	"github.com/goccy/go-yaml"
)

type Config struct {
	Hostname                 string             `yaml:"hostname"`
	Options                  Options            `yaml:"options"`
	CredentialsPassphraseEnv string             `yaml:"credentials_passphrase_env"`
	Services                 map[string]Service `yaml:"services" validate:"dive"`
	Targets                  []Target           `yaml:"targets" validate:"dive"`
}

// Options are global settings. Every field is a string so it can be
// overridden by a CLI flag of the same name; Settings parses them.
type Options struct {
	Timeout              string `yaml:"timeout"`
	StageTimeout         string `yaml:"stage_timeout"`
	CleanupTimeout       string `yaml:"cleanup_timeout"`
	PingCount            string `yaml:"ping_count"`
	PrimaryPortTimeout   string `yaml:"primary_port_timeout"`
	SecondaryPortTimeout string `yaml:"secondary_port_timeout"`
	TCPFallback          string `yaml:"tcp_fallback"`
	MountBase            string `yaml:"mount_base"`
	UseSudo              string `yaml:"use_sudo"`
	CredentialsDir       string `yaml:"credentials_dir"`
}

type Service struct {
	URL    string            `yaml:"url" validate:"required"`
	Params map[string]string `yaml:"params"`
}

// Target is one file server to diagnose.
type Target struct {
	Name       string         `yaml:"name" validate:"required"`
	Server     string         `yaml:"server" validate:"required,hostname_rfc1123|ip"`
	Share      string         `yaml:"share" validate:"omitempty,max=80,excludesall=/\\"`
	Credential string         `yaml:"credential"`
	Timeout    string         `yaml:"timeout"`
	Trigger    Trigger        `yaml:"trigger"`
	Cooldown   Cooldown       `yaml:"cooldown"`
	Template   string         `yaml:"template"`
	Notify     []NotifyTarget `yaml:"notify" validate:"dive"`
}

// Trigger schedules a target in watch mode. At most one field is set.
type Trigger struct {
	Interval string `yaml:"interval"`
	Cron     string `yaml:"cron"`
}

// Scheduled reports whether the target runs in watch mode.
func (t Trigger) Scheduled() bool {
	return t.Interval != "" || t.Cron != ""
}

// Cooldown handles a simple duration string or per-status object.
type Cooldown struct {
	Simple   string
	Warning  string
	Critical string
	Recovery bool
}

func (c *Cooldown) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		c.Simple = str
		return nil
	}

	var obj cooldownObj
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("cooldown: must be a duration string or an object with warning/critical/recovery")
	}
	c.Warning = obj.Warning
	c.Critical = obj.Critical
	c.Recovery = obj.Recovery
	return nil
}

type cooldownObj struct {
	Warning  string `yaml:"warning"`
	Critical string `yaml:"critical"`
	Recovery bool   `yaml:"recovery"`
}

// NotifyTarget handles a plain service name string or an object with overrides.
type NotifyTarget struct {
	Service  string            `yaml:"service" validate:"required"`
	Template string            `yaml:"template"`
	Params   map[string]string `yaml:"params"`
}

func (n *NotifyTarget) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		n.Service = str
		return nil
	}

	type notifyAlias NotifyTarget
	var obj notifyAlias
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("notify: must be a service name string or an object with service/template/params")
	}
	*n = NotifyTarget(obj)
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expanding env vars: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// FindTarget returns the target with the given name, or nil.
func (c *Config) FindTarget(name string) *Target {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i]
		}
	}
	return nil
}
