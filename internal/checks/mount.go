package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/ctxlog"
	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/probe"
	"github.com/sznuper/smbdoctor/internal/report"
)

// mount attaches the share to a freshly reserved identifier and checks the
// system lists it. Detaching happens in the release cleanup, which the
// orchestrator always runs and reports as a note when it fails.
func (s *Suite) mount(ctx context.Context, env *engine.Env) (engine.Result, error) {
	if env.Target.Share == "" {
		return engine.Skip("no share name supplied"), nil
	}
	path := s.adapter.SharePath(env.Target.Address, env.Target.Share)
	cred, err := s.credential(ctx, env)
	if err != nil {
		return engine.Result{}, fmt.Errorf("resolving credential: %w", err)
	}

	h, release, err := s.alloc.Reserve(ctx)
	if errors.Is(err, allocator.ErrNoFreeIdentifier) {
		return engine.Fail("cannot attach: " + err.Error()), nil
	}
	if err != nil {
		return engine.Result{}, err
	}
	env.Defer("release "+h.ID, release)
	logger := ctxlog.FromContext(ctx).With("identifier", h.ID)

	pctx, cancel := bounded(ctx, env)
	err = s.adapter.Attach(pctx, h.ID, path, cred)
	cancel()
	if err != nil {
		s.adoptPartialAttach(ctx, env, h)
		if ctx.Err() != nil {
			return engine.Result{}, ctx.Err()
		}
		if errors.Is(err, probe.ErrAuthRejected) {
			return engine.Fail(fmt.Sprintf("attaching %s: authentication rejected for %s", path, account(cred))), nil
		}
		return engine.Fail(fmt.Sprintf("attaching %s to %s failed: %v", path, h.ID, err)), nil
	}
	h.MarkAttached()
	logger.Debug("attached", "path", path)

	inUse, err := s.adapter.ListInUseIdentifiers(ctx)
	if err != nil {
		return engine.Result{}, fmt.Errorf("verifying attachment: %w", err)
	}
	if !containsFold(inUse, h.ID) {
		return engine.Fail(fmt.Sprintf("attach of %s reported success but %s is not in use", path, h.ID)), nil
	}

	res := engine.Pass(
		fmt.Sprintf("attached %s as %s", path, h.ID),
		report.MountFact{Identifier: h.ID, Remote: path},
	)
	if advertised := report.FactsOf[report.ShareFact](env.FactsFor(engine.ShareEnumerable)); len(advertised) > 0 {
		if !shareListed(advertised, env.Target.Share) {
			res = res.WithNote(report.NoteInfo, report.Informational,
				fmt.Sprintf("share %s not advertised by %s", env.Target.Share, env.Target.Address))
		}
	}
	return res, nil
}

// adoptPartialAttach marks h attached when a failed Attach left the
// identifier in use anyway, e.g. the tool was killed after the mount landed.
// Release then detaches it.
func (s *Suite) adoptPartialAttach(ctx context.Context, env *engine.Env, h *allocator.Handle) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), env.Target.Timeout)
	defer cancel()
	inUse, err := s.adapter.ListInUseIdentifiers(lctx)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("cannot confirm failed attach left nothing behind", "identifier", h.ID, "error", err)
		return
	}
	if containsFold(inUse, h.ID) {
		ctxlog.FromContext(ctx).Info("failed attach left identifier in use", "identifier", h.ID)
		h.MarkAttached()
	}
}

func containsFold(ids []string, id string) bool {
	want := strings.TrimRight(id, `\/`)
	for _, v := range ids {
		if strings.EqualFold(strings.TrimRight(v, `\/`), want) {
			return true
		}
	}
	return false
}

func shareListed(shares []report.ShareFact, name string) bool {
	for _, s := range shares {
		if strings.EqualFold(s.Name, name) {
			return true
		}
	}
	return false
}
