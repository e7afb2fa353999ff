package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/checks"
	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/ctxlog"
	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/notify"
	"github.com/sznuper/smbdoctor/internal/platform"
	"github.com/sznuper/smbdoctor/internal/probe"
	"github.com/sznuper/smbdoctor/internal/report"
)

// Job is one target ready to diagnose plus where to report it.
type Job struct {
	Target   engine.Target
	Template string
	Notify   []config.NotifyTarget
}

// Runner orchestrates the build → diagnose → template → notify pipeline.
// One Runner shares a single identifier allocator across concurrent runs.
type Runner struct {
	cfg      *config.Config
	settings config.Settings
	adapter  probe.Adapter
	creds    *credential.Resolver
	suite    *checks.Suite
	logger   *slog.Logger

	// engine runs are serialised per target name
	locks sync.Map
}

// New creates a Runner. A nil adapter selects the one for the running
// system.
func New(cfg *config.Config, adapter probe.Adapter, logger *slog.Logger) (*Runner, error) {
	settings, err := cfg.Options.Settings()
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		adapter, err = platform.Detect(platform.Config{
			MountBase: settings.MountBase,
			UseSudo:   settings.UseSudo,
		})
		if err != nil {
			return nil, err
		}
	}

	creds := credential.NewResolver(settings.CredentialsDir, cfg.CredentialsPassphraseEnv)
	suite := checks.NewSuite(adapter, creds, allocator.New(adapter.Identifiers(), adapter), checks.Options{
		PingCount:            settings.PingCount,
		PrimaryPortTimeout:   settings.PrimaryPortTimeout,
		SecondaryPortTimeout: settings.SecondaryPortTimeout,
		TCPFallback:          settings.TCPFallback,
	})

	return &Runner{
		cfg:      cfg,
		settings: settings,
		adapter:  adapter,
		creds:    creds,
		suite:    suite,
		logger:   logger,
	}, nil
}

// Settings returns the parsed global options.
func (r *Runner) Settings() config.Settings { return r.settings }

// Credentials returns the resolver, so interactive callers can register
// in-memory credentials.
func (r *Runner) Credentials() *credential.Resolver { return r.creds }

// JobFor turns a configured target into a Job.
func (r *Runner) JobFor(t *config.Target) (Job, error) {
	timeout, err := t.TargetTimeout(r.settings.Timeout)
	if err != nil {
		return Job{}, err
	}
	target, err := engine.NewTarget(t.Server).
		Named(t.Name).
		Share(t.Share).
		Credential(t.Credential).
		Timeout(timeout).
		Build()
	if err != nil {
		return Job{}, fmt.Errorf("target %s: %w", t.Name, err)
	}
	return Job{Target: target, Template: t.Template, Notify: t.Notify}, nil
}

// RunAll runs every configured target sequentially.
func (r *Runner) RunAll(ctx context.Context, dryRun bool) []Result {
	var results []Result
	for i := range r.cfg.Targets {
		results = append(results, r.RunTarget(ctx, &r.cfg.Targets[i], dryRun))
	}
	return results
}

// RunTarget builds a job from t and runs it. A target that cannot be built
// yields a Result with ErrStage "build".
func (r *Runner) RunTarget(ctx context.Context, t *config.Target, dryRun bool) Result {
	job, err := r.JobFor(t)
	if err != nil {
		r.logger.Error("build failed", "target", t.Name, "error", err)
		return Result{TargetName: t.Name, DryRun: dryRun, Err: err, ErrStage: "build"}
	}
	return r.Run(ctx, job, dryRun)
}

// Run diagnoses the job's target and notifies when the report is not
// passed.
func (r *Runner) Run(ctx context.Context, job Job, dryRun bool) Result {
	result := r.Evaluate(ctx, job)
	result.DryRun = dryRun
	if result.Err != nil || result.Report == nil {
		return result
	}
	if result.Report.Status == report.OverallPassed {
		r.logger.Info("status passed, skipping notifications", "target", job.Target.Name)
		return result
	}
	start := time.Now()
	r.Deliver(&result, dryRun)
	result.Duration += time.Since(start)
	return result
}

// Evaluate diagnoses the job's target and renders its notifications
// without sending anything.
func (r *Runner) Evaluate(ctx context.Context, job Job) Result {
	log := r.logger.With("target", job.Target.Name)
	start := time.Now()
	result := Result{TargetName: job.Target.Name}

	unlock := r.lock(job.Target.Name)
	defer unlock()

	// Stage 1: Diagnose.
	log.Info("diagnosing", "server", job.Target.Address, "share", job.Target.Share)
	orch := engine.New(r.adapter.Profile().OS, log)
	orch.StageTimeout = r.settings.StageTimeout
	orch.CleanupTimeout = r.settings.CleanupTimeout

	rep, err := orch.Run(ctxlog.WithLogger(ctx, log), job.Target, r.suite.Registry())
	result.Report = rep
	if err != nil {
		result.Err = err
		result.ErrStage = "diagnose"
		result.Duration = time.Since(start)
		log.Error("diagnose failed", "error", err)
		return result
	}
	log.Debug("diagnosed", "status", rep.Status, "run", rep.RunID)

	// Stage 2: Render templates.
	log.Info("rendering templates")
	data := notify.BuildTemplateData(map[string]any{"hostname": r.cfg.Hostname}, rep)
	targets, err := notify.ResolveTargets(mapNotifyRefs(job.Notify), mapServiceDefs(r.cfg.Services), job.Template, data)
	if err != nil {
		result.Err = err
		result.ErrStage = "template"
		result.Duration = time.Since(start)
		log.Error("template failed", "error", err)
		return result
	}

	result.targets = targets
	result.Rendered = make(map[string]string, len(targets))
	for _, t := range targets {
		result.Rendered[t.ServiceName] = t.Message
	}
	log.Debug("templates rendered", "targets", len(targets))

	result.Duration = time.Since(start)
	log.Info("target completed", "status", rep.Status, "duration", result.Duration)
	return result
}

// Deliver sends result's rendered notifications, or only validates them
// when dryRun is set. The first failure stops delivery.
func (r *Runner) Deliver(result *Result, dryRun bool) {
	log := r.logger.With("target", result.TargetName)
	for _, t := range result.targets {
		if dryRun {
			if err := notify.Validate(t); err != nil {
				result.Err = err
				result.ErrStage = "notify"
				log.Error("notify validation failed (dry-run)", "service", t.ServiceName, "error", err)
				return
			}
			result.Notified = append(result.Notified, t.ServiceName)
			log.Debug("would notify (dry-run)", "service", t.ServiceName, "message", t.Message)
			continue
		}

		log.Info("sending notification", "service", t.ServiceName)
		if err := notify.Send(t); err != nil {
			result.Err = err
			result.ErrStage = "notify"
			log.Error("notify failed", "service", t.ServiceName, "error", err)
			return
		}
		result.Notified = append(result.Notified, t.ServiceName)
		log.Debug("notification sent", "service", t.ServiceName)
	}
}

func (r *Runner) lock(name string) func() {
	v, _ := r.locks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func mapNotifyRefs(targets []config.NotifyTarget) []notify.NotifyRef {
	refs := make([]notify.NotifyRef, len(targets))
	for i, t := range targets {
		refs[i] = notify.NotifyRef{
			ServiceName: t.Service,
			Template:    t.Template,
			Params:      t.Params,
		}
	}
	return refs
}

func mapServiceDefs(services map[string]config.Service) map[string]notify.ServiceDef {
	defs := make(map[string]notify.ServiceDef, len(services))
	for name, svc := range services {
		defs[name] = notify.ServiceDef{
			URL:    svc.URL,
			Params: svc.Params,
		}
	}
	return defs
}
