package notify

import (
	"errors"
	"fmt"
	"maps"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// Target holds a fully resolved notification target ready to send.
type Target struct {
	ServiceName string
	URL         string
	Message     string
	Params      map[string]string
}

// NotifyRef names a service to notify, with optional per-target overrides.
type NotifyRef struct {
	ServiceName string
	Template    string
	Params      map[string]string
}

// ServiceDef is a configured Shoutrrr service.
type ServiceDef struct {
	URL    string
	Params map[string]string
}

// ResolveTargets renders one message per reference. The template is the
// reference's own, else tmpl, else DefaultTemplate. Params are the
// service's, overridden by the reference's, and may themselves be
// templates.
func ResolveTargets(refs []NotifyRef, services map[string]ServiceDef, tmpl string, data TemplateData) ([]Target, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}

	targets := make([]Target, 0, len(refs))
	for _, ref := range refs {
		svc, ok := services[ref.ServiceName]
		if !ok {
			return nil, fmt.Errorf("unknown service %q", ref.ServiceName)
		}

		body := tmpl
		if ref.Template != "" {
			body = ref.Template
		}
		msg, err := Render(body, data)
		if err != nil {
			return nil, fmt.Errorf("rendering template for %s: %w", ref.ServiceName, err)
		}

		params, err := renderParams(svc.Params, ref.Params, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref.ServiceName, err)
		}

		targets = append(targets, Target{
			ServiceName: ref.ServiceName,
			URL:         svc.URL,
			Message:     msg,
			Params:      params,
		})
	}
	return targets, nil
}

func renderParams(base, override map[string]string, data TemplateData) (map[string]string, error) {
	merged := make(map[string]string, len(base)+len(override))
	maps.Copy(merged, base)
	maps.Copy(merged, override)
	for k, v := range merged {
		out, err := Render(v, data)
		if err != nil {
			return nil, fmt.Errorf("rendering param %q: %w", k, err)
		}
		merged[k] = out
	}
	return merged, nil
}

// Send delivers t via Shoutrrr. Every delivery error is returned.
func Send(t Target) error {
	sender, err := shoutrrr.CreateSender(t.URL)
	if err != nil {
		return fmt.Errorf("creating sender for %s: %w", t.ServiceName, err)
	}

	params := types.Params(t.Params)
	var errs []error
	for _, e := range sender.Send(t.Message, &params) {
		if e != nil {
			errs = append(errs, e)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sending to %s: %w", t.ServiceName, err)
	}
	return nil
}

// Validate checks that Shoutrrr can build a sender for t's URL. Nothing is
// sent.
func Validate(t Target) error {
	if _, err := shoutrrr.CreateSender(t.URL); err != nil {
		return fmt.Errorf("invalid url for %s: %w", t.ServiceName, err)
	}
	return nil
}
