package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings are Options parsed into typed values, with defaults applied.
type Settings struct {
	Timeout              time.Duration
	StageTimeout         time.Duration
	CleanupTimeout       time.Duration
	PingCount            int
	PrimaryPortTimeout   time.Duration
	SecondaryPortTimeout time.Duration
	TCPFallback          bool
	MountBase            string
	UseSudo              bool
	CredentialsDir       string
}

// Settings parses o. Empty fields take defaults; malformed ones are errors.
func (o Options) Settings() (Settings, error) {
	s := Settings{MountBase: o.MountBase}
	var errs []error

	duration := func(field, value string, def time.Duration) time.Duration {
		if value == "" {
			return def
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("options.%s: invalid duration %q", field, value))
			return def
		}
		return d
	}
	boolean := func(field, value string, def bool) bool {
		if value == "" {
			return def
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("options.%s: invalid boolean %q", field, value))
			return def
		}
		return b
	}

	s.Timeout = duration("timeout", o.Timeout, 10*time.Second)
	s.StageTimeout = duration("stage_timeout", o.StageTimeout, 45*time.Second)
	s.CleanupTimeout = duration("cleanup_timeout", o.CleanupTimeout, 15*time.Second)
	s.PrimaryPortTimeout = duration("primary_port_timeout", o.PrimaryPortTimeout, 3*time.Second)
	s.SecondaryPortTimeout = duration("secondary_port_timeout", o.SecondaryPortTimeout, 2*time.Second)
	s.TCPFallback = boolean("tcp_fallback", o.TCPFallback, true)
	s.UseSudo = boolean("use_sudo", o.UseSudo, false)

	s.PingCount = 2
	if o.PingCount != "" {
		n, err := strconv.Atoi(o.PingCount)
		if err != nil || n < 1 || n > 20 {
			errs = append(errs, fmt.Errorf("options.ping_count: must be an integer from 1 to 20, got %q", o.PingCount))
		} else {
			s.PingCount = n
		}
	}

	dir := o.CredentialsDir
	if dir == "" {
		dir = "~/.config/smbdoctor/credentials"
	}
	s.CredentialsDir = expandHome(dir)

	return s, errors.Join(errs...)
}

// TargetTimeout returns the target's own timeout, or def when unset.
func (t Target) TargetTimeout(def time.Duration) (time.Duration, error) {
	if t.Timeout == "" {
		return def, nil
	}
	d, err := time.ParseDuration(t.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("target %s: invalid timeout %q", t.Name, t.Timeout)
	}
	return d, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
