package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/sznuper/smbdoctor/internal/ctxlog"
	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/probe"
	"github.com/sznuper/smbdoctor/internal/report"
)

func (s *Suite) service(ctx context.Context, env *engine.Env) (engine.Result, error) {
	prof := s.adapter.Profile()
	var facts []report.Fact

	query := func(names []string, required bool) ([]string, error) {
		var down []string
		for _, name := range names {
			state, err := s.adapter.QueryServiceState(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("querying service %s: %w", name, err)
			}
			facts = append(facts, report.ServiceFact{Name: name, State: state.String(), Required: required})
			if state != probe.ServiceRunning {
				down = append(down, fmt.Sprintf("%s (%s)", name, state))
			}
		}
		return down, nil
	}

	primary, err := query(prof.Primary, true)
	if err != nil {
		return engine.Result{}, err
	}
	secondary, err := query(prof.Secondary, false)
	if err != nil {
		return engine.Result{}, err
	}

	switch {
	case len(primary) > 0:
		return engine.Fail("required SMB client not running: "+strings.Join(primary, ", "), facts...), nil
	case len(secondary) > 0:
		ctxlog.FromContext(ctx).Info("optional service inactive", "services", secondary)
		return engine.Fail("optional SMB service not running: "+strings.Join(secondary, ", "), facts...).
			WithSeverity(report.Warning), nil
	default:
		return engine.Pass(fmt.Sprintf("%d SMB client services running on %s", len(facts), prof.OS), facts...), nil
	}
}
