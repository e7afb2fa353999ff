package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/sznuper/smbdoctor/internal/credential"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the whole config and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if _, err := c.Options.Settings(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool)
	for _, t := range c.Targets {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("target %s: defined more than once", t.Name))
		}
		seen[t.Name] = true
		errs = append(errs, c.validateTarget(t)...)
	}

	return errors.Join(errs...)
}

func (c *Config) validateTarget(t Target) []error {
	var errs []error
	wrap := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("target %s: "+format, append([]any{t.Name}, args...)...))
	}

	if _, err := t.TargetTimeout(time.Second); err != nil {
		errs = append(errs, err)
	}
	if err := credential.ValidateRef(t.Credential); err != nil {
		wrap("%v", err)
	}

	switch {
	case t.Trigger.Interval != "" && t.Trigger.Cron != "":
		wrap("trigger: set either interval or cron, not both")
	case t.Trigger.Interval != "":
		if d, err := time.ParseDuration(t.Trigger.Interval); err != nil || d < time.Minute {
			wrap("trigger.interval: must be a duration of at least 1m, got %q", t.Trigger.Interval)
		}
	case t.Trigger.Cron != "":
		if _, err := cron.ParseStandard(t.Trigger.Cron); err != nil {
			wrap("trigger.cron: %v", err)
		}
	}

	for _, v := range []struct{ field, value string }{
		{"cooldown", t.Cooldown.Simple},
		{"cooldown.warning", t.Cooldown.Warning},
		{"cooldown.critical", t.Cooldown.Critical},
	} {
		if v.value == "" {
			continue
		}
		if _, err := time.ParseDuration(v.value); err != nil {
			wrap("%s: invalid duration %q", v.field, v.value)
		}
	}

	for _, n := range t.Notify {
		if _, ok := c.Services[n.Service]; !ok {
			wrap("notify: unknown service %q", n.Service)
		}
	}
	return errs
}
