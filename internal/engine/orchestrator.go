// Package engine schedules diagnostic stages in dependency order and folds
// their outcomes into a report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sznuper/smbdoctor/internal/ctxlog"
	"github.com/sznuper/smbdoctor/internal/report"
)

const (
	DefaultStageTimeout   = 45 * time.Second
	DefaultCleanupTimeout = 15 * time.Second
	DefaultCleanupGrace   = 2 * time.Second
)

// Orchestrator runs one registry against one target at a time. It keeps no
// state between runs, so independent runs may share an Orchestrator.
type Orchestrator struct {
	// StageTimeout applies to stages that declare no Timeout of their own.
	StageTimeout time.Duration
	// CleanupTimeout bounds each deferred cleanup.
	CleanupTimeout time.Duration
	// CleanupGrace is how long a timed-out stage that registered cleanups
	// gets to unwind before its cleanups are run from outside.
	CleanupGrace time.Duration
	// Platform is copied onto the report.
	Platform string
	Logger   *slog.Logger
}

// New returns an Orchestrator with default timeouts.
func New(platform string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		StageTimeout:   DefaultStageTimeout,
		CleanupTimeout: DefaultCleanupTimeout,
		CleanupGrace:   DefaultCleanupGrace,
		Platform:       platform,
		Logger:         logger,
	}
}

// Run diagnoses target with the stages in reg.
//
// A *ConfigurationError is returned, with no report, when the registry cannot
// be scheduled. When ctx is cancelled the run stops before the next stage and
// the partial report is returned together with the cancellation error. Every
// other failure is recorded as an outcome.
func (o *Orchestrator) Run(ctx context.Context, target Target, reg *Registry) (*report.Report, error) {
	plan, err := reg.Plan()
	if err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	logger := o.Logger
	if logger == nil {
		logger = ctxlog.FromContext(ctx)
	}
	runID := uuid.NewString()
	logger = logger.With("run", runID, "target", target.Name)
	ctx = ctxlog.WithLogger(ctx, logger)

	rep := &report.Report{
		RunID:    runID,
		Target:   target.Info(),
		Platform: o.Platform,
		Started:  time.Now(),
	}
	prior := make(map[string]report.Outcome, len(plan))
	var order []string

	for _, st := range plan {
		if err := ctx.Err(); err != nil {
			rep.Finish()
			logger.Warn("run cancelled", "next_stage", st.Name, "error", err)
			return rep, fmt.Errorf("diagnostic run cancelled before stage %q: %w", st.Name, err)
		}

		var out report.Outcome
		if blocker, ok := firstUnpassed(st, prior); ok {
			logger.Debug("skipping stage", "stage", st.Name, "prerequisite", blocker)
			out = report.Outcome{
				Stage:      st.Name,
				Capability: st.Capability.String(),
				Status:     report.Skipped,
				Severity:   st.Severity,
				Detail:     fmt.Sprintf("prerequisite %s did not pass", blocker),
			}
		} else {
			env := newEnv(target, prior, append([]string(nil), order...))
			out = o.invoke(ctx, st, env)
		}

		logger.Info("stage finished", "stage", st.Name, "status", out.Status, "severity", out.Severity, "duration", out.Duration)
		prior[st.Name] = out
		order = append(order, st.Name)
		rep.Outcomes = append(rep.Outcomes, out)

		if err := ctx.Err(); err != nil {
			rep.Finish()
			return rep, fmt.Errorf("diagnostic run cancelled during stage %q: %w", st.Name, err)
		}
	}

	rep.Finish()
	logger.Info("run finished", "status", rep.Status, "duration", rep.Duration)
	return rep, nil
}

// Run is a convenience wrapper using a default Orchestrator.
func Run(ctx context.Context, target Target, reg *Registry) (*report.Report, error) {
	return New("", nil).Run(ctx, target, reg)
}

func firstUnpassed(st Stage, prior map[string]report.Outcome) (string, bool) {
	for _, p := range st.Prerequisites {
		if prior[p].Status != report.Passed {
			return p, true
		}
	}
	return "", false
}

type stageReturn struct {
	res Result
	err error
}

func (o *Orchestrator) stageTimeout(st Stage) time.Duration {
	if st.Timeout > 0 {
		return st.Timeout
	}
	if o.StageTimeout > 0 {
		return o.StageTimeout
	}
	return DefaultStageTimeout
}

// invoke runs one stage under its deadline. It never panics and never
// returns before the stage's cleanups have run.
func (o *Orchestrator) invoke(ctx context.Context, st Stage, env *Env) report.Outcome {
	logger := ctxlog.FromContext(ctx).With("stage", st.Name)
	timeout := o.stageTimeout(st)
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctxlog.WithLogger(ctx, logger), timeout)
	defer cancel()

	logger.Debug("starting stage", "capability", st.Capability, "timeout", timeout)

	done := make(chan stageReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageReturn{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := st.Run(sctx, env)
		done <- stageReturn{res: res, err: err}
	}()

	var out report.Outcome
	select {
	case r := <-done:
		out = o.outcomeFrom(st, r, sctx, ctx, timeout)
	case <-sctx.Done():
		if env.hasCleanups() {
			o.awaitGrace(done)
		}
		out = o.interrupted(st, ctx, timeout)
		logger.Warn("stage interrupted", "detail", out.Detail)
	}

	out.Notes = append(out.Notes, o.runCleanups(ctx, env)...)
	out.Duration = time.Since(start)
	return out
}

func (o *Orchestrator) awaitGrace(done <-chan stageReturn) {
	grace := o.CleanupGrace
	if grace <= 0 {
		return
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
}

func (o *Orchestrator) interrupted(st Stage, parent context.Context, timeout time.Duration) report.Outcome {
	out := report.Outcome{
		Stage:      st.Name,
		Capability: st.Capability.String(),
		Status:     report.Failed,
		Severity:   report.Critical,
	}
	if err := parent.Err(); err != nil {
		out.Detail = fmt.Sprintf("cancelled: %v", err)
	} else {
		out.Detail = fmt.Sprintf("timed out after %s", timeout)
	}
	return out
}

func (o *Orchestrator) outcomeFrom(st Stage, r stageReturn, sctx, parent context.Context, timeout time.Duration) report.Outcome {
	base := report.Outcome{
		Stage:      st.Name,
		Capability: st.Capability.String(),
		Severity:   st.Severity,
	}

	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
			if sctx.Err() != nil {
				return o.interrupted(st, parent, timeout)
			}
		}
		base.Status = report.Failed
		base.Severity = report.Critical
		base.Detail = r.err.Error()
		return base
	}

	res := r.res
	switch res.Status {
	case report.Passed, report.Failed, report.Skipped:
	default:
		base.Status = report.Failed
		base.Severity = report.Critical
		base.Detail = fmt.Sprintf("stage returned invalid status %q", res.Status)
		return base
	}

	base.Status = res.Status
	base.Detail = res.Detail
	base.Notes = append(base.Notes, res.Notes...)
	if res.severity != nil {
		base.Severity = *res.severity
	}
	if res.Status != report.Skipped {
		base.Facts = append(base.Facts, res.Facts...)
	}
	return base
}

// runCleanups drains env's cleanup stack last-in first-out. Cleanups get a
// context that survives run cancellation, bounded by CleanupTimeout.
func (o *Orchestrator) runCleanups(ctx context.Context, env *Env) []report.Note {
	logger := ctxlog.FromContext(ctx)
	late := func(name string, fn func(context.Context) error) {
		if err := o.runCleanup(ctx, name, fn); err != nil {
			logger.Warn("late cleanup failed", "cleanup", name, "error", err)
		}
	}
	pending := env.drain(late)

	var notes []report.Note
	for i := len(pending) - 1; i >= 0; i-- {
		c := pending[i]
		if err := o.runCleanup(ctx, c.name, c.fn); err != nil {
			logger.Warn("cleanup failed", "cleanup", c.name, "error", err)
			notes = append(notes, report.Note{
				Kind:     report.NoteCleanupFailure,
				Severity: report.Warning,
				Detail:   fmt.Sprintf("cleanup %s failed: %v", c.name, err),
			})
		}
	}
	return notes
}

func (o *Orchestrator) runCleanup(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	timeout := o.CleanupTimeout
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(cctx)
}
