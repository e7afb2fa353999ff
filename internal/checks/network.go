package checks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sznuper/smbdoctor/internal/ctxlog"
	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/probe"
	"github.com/sznuper/smbdoctor/internal/report"
)

func (s *Suite) reachability(ctx context.Context, env *engine.Env) (engine.Result, error) {
	addr := env.Target.Address
	logger := ctxlog.FromContext(ctx)

	// ping -c N -W T runs for roughly (N-1)s + T, not T.
	pctx, cancel := context.WithTimeout(ctx, pingBudget(s.opts.PingCount, env.Target.Timeout))
	ok, err := s.adapter.ReachabilityProbe(pctx, addr, s.opts.PingCount, env.Target.Timeout)
	cancel()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return engine.Result{}, ctx.Err()
	case errors.Is(err, probe.ErrToolMissing) && s.opts.TCPFallback:
		logger.Info("echo probe unavailable, trying tcp", "error", err)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("echo probe got no reply before its deadline", "error", err)
		ok = false
	default:
		return engine.Result{}, fmt.Errorf("reachability probe: %w", err)
	}

	if ok {
		return engine.Pass(
			fmt.Sprintf("%s answered echo probes", addr),
			report.ReachabilityFact{Address: addr, Reachable: true, Via: "icmp"},
		), nil
	}

	if s.opts.TCPFallback && ctx.Err() == nil {
		state, _ := s.adapter.TCPConnect(ctx, addr, probe.PortSMB, s.opts.PrimaryPortTimeout)
		if state == probe.PortOpen {
			via := fmt.Sprintf("tcp/%d", probe.PortSMB)
			return engine.Pass(
				"no echo reply; reachable on "+via,
				report.ReachabilityFact{Address: addr, Reachable: true, Via: via},
			).WithNote(report.NoteInfo, report.Informational, "echo requests appear to be filtered"), nil
		}
	}

	return engine.Fail(
		fmt.Sprintf("%s did not answer %d echo probes within %s", addr, s.opts.PingCount, env.Target.Timeout),
		report.ReachabilityFact{Address: addr, Reachable: false, Via: "icmp"},
	), nil
}

const pingSlack = 2 * time.Second

func pingBudget(count int, timeout time.Duration) time.Duration {
	return time.Duration(max(count, 1))*timeout + pingSlack
}

type portSpec struct {
	port    int
	label   string
	timeout time.Duration
	primary bool
}

func (s *Suite) ports(ctx context.Context, env *engine.Env) (engine.Result, error) {
	addr := env.Target.Address
	specs := []portSpec{
		{probe.PortSMB, "smb", s.opts.PrimaryPortTimeout, true},
		{probe.PortNetBIOS, "netbios", s.opts.SecondaryPortTimeout, false},
	}

	var facts []report.Fact
	var primaryDown, secondaryDown []string
	for _, p := range specs {
		state, err := s.adapter.TCPConnect(ctx, addr, p.port, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return engine.Result{}, ctx.Err()
			}
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) {
				return engine.Fail("dns resolution failed: " + dnsErr.Error()), nil
			}
		}
		open := state == probe.PortOpen
		facts = append(facts, report.PortFact{Port: p.port, Open: open, Primary: p.primary})
		if open {
			continue
		}
		desc := fmt.Sprintf("%d/%s %s", p.port, p.label, state)
		if err != nil {
			desc += ": " + err.Error()
		}
		if p.primary {
			primaryDown = append(primaryDown, desc)
		} else {
			secondaryDown = append(secondaryDown, desc)
		}
	}

	switch {
	case len(primaryDown) > 0:
		return engine.Fail("port "+strings.Join(append(primaryDown, secondaryDown...), "; "), facts...), nil
	case len(secondaryDown) > 0:
		return engine.Fail("port "+strings.Join(secondaryDown, "; "), facts...).WithSeverity(report.Warning), nil
	default:
		return engine.Pass(fmt.Sprintf("ports %d and %d open", probe.PortSMB, probe.PortNetBIOS), facts...), nil
	}
}
