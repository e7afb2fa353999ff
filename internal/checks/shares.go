package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/parse"
	"github.com/sznuper/smbdoctor/internal/probe"
	"github.com/sznuper/smbdoctor/internal/report"
)

func (s *Suite) shares(ctx context.Context, env *engine.Env) (engine.Result, error) {
	addr := env.Target.Address
	cred, err := s.credential(ctx, env)
	if err != nil {
		return engine.Result{}, fmt.Errorf("resolving credential: %w", err)
	}

	pctx, cancel := bounded(ctx, env)
	raw, err := s.adapter.ListShares(pctx, addr, cred)
	cancel()
	if errors.Is(err, probe.ErrAuthRejected) {
		return engine.Fail(fmt.Sprintf("authentication rejected by %s for %s", addr, account(cred))), nil
	}
	if err != nil {
		return engine.Result{}, fmt.Errorf("listing shares: %w", err)
	}

	all, err := parse.Shares(s.adapter.Profile().Listing, raw)
	if err != nil {
		return engine.Result{}, err
	}
	disk := parse.DiskShares(all)
	if len(disk) == 0 {
		if len(all) == 0 {
			return engine.Fail(fmt.Sprintf("no shares advertised by %s", addr)), nil
		}
		return engine.Fail(fmt.Sprintf("no disk shares advertised by %s (%d other shares)", addr, len(all))), nil
	}

	names := make([]string, len(disk))
	facts := make([]report.Fact, len(disk))
	for i, sh := range disk {
		names[i] = sh.Name
		facts[i] = sh
	}
	return engine.Pass(fmt.Sprintf("%d disk shares: %s", len(disk), strings.Join(names, ", ")), facts...), nil
}

func (s *Suite) shareAccess(ctx context.Context, env *engine.Env) (engine.Result, error) {
	if env.Target.Share == "" {
		return engine.Skip("no share name supplied"), nil
	}
	path := s.adapter.SharePath(env.Target.Address, env.Target.Share)
	cred, err := s.credential(ctx, env)
	if err != nil {
		return engine.Result{}, fmt.Errorf("resolving credential: %w", err)
	}

	pctx, cancel := bounded(ctx, env)
	ok, err := s.adapter.CheckPathAccessible(pctx, path, cred)
	cancel()
	switch {
	case errors.Is(err, probe.ErrAuthRejected):
		return engine.Fail(
			fmt.Sprintf("%s: authentication rejected for %s", path, account(cred)),
			report.AccessFact{Path: path},
		), nil
	case err != nil:
		return engine.Result{}, fmt.Errorf("checking %s: %w", path, err)
	case !ok:
		return engine.Fail(path+" is not accessible", report.AccessFact{Path: path}), nil
	}
	return engine.Pass(path+" is accessible", report.AccessFact{Path: path, Accessible: true}), nil
}
