// Package watch runs configured targets on their triggers, applies the
// notification cooldown, and reloads the schedule when the config file
// changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/report"
	"github.com/sznuper/smbdoctor/internal/runner"
)

const (
	// breakerTrips is how many consecutive critical runs open a target's
	// circuit.
	breakerTrips = 3
	// breakerPause is how long an open circuit suspends a target.
	breakerPause = 5 * time.Minute
)

// ErrNothingScheduled is returned when no target has a trigger.
var ErrNothingScheduled = errors.New("no target has a trigger")

// Loader reads and validates the config at path.
type Loader func(path string) (*config.Config, error)

// Builder makes a runner for a loaded config.
type Builder func(cfg *config.Config) (*runner.Runner, error)

// Watcher schedules every triggered target of a config.
type Watcher struct {
	Path   string
	Load   Loader
	Build  Builder
	Logger *slog.Logger
	DryRun bool
	// BreakerPause overrides breakerPause when non-zero.
	BreakerPause time.Duration

	now func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	targets map[string]*tracked
}

type tracked struct {
	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker
	hist    history
}

// New returns a Watcher for the config at path.
func New(path string, load Loader, build Builder, logger *slog.Logger) *Watcher {
	return &Watcher{
		Path:    path,
		Load:    load,
		Build:   build,
		Logger:  logger,
		now:     time.Now,
		targets: make(map[string]*tracked),
	}
}

// Run loads the config, starts the schedule and blocks until ctx is done.
// Config changes are picked up without a restart; a change that fails to
// load or validate keeps the previous schedule.
func (w *Watcher) Run(ctx context.Context) error {
	cfg, err := w.Load(w.Path)
	if err != nil {
		return err
	}
	if err := w.apply(ctx, cfg); err != nil {
		return err
	}
	defer w.stop()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.Path)); err != nil {
		return fmt.Errorf("watching config: %w", err)
	}

	want := filepath.Clean(w.Path)
	for {
		select {
		case ev := <-fw.Events:
			if filepath.Clean(ev.Name) != want || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload(ctx)
		case err := <-fw.Errors:
			w.Logger.Warn("config watch error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.Load(w.Path)
	if err != nil {
		w.Logger.Error("config reload failed, keeping previous schedule", "error", err)
		return
	}
	if err := w.apply(ctx, cfg); err != nil {
		w.Logger.Error("config reload failed, keeping previous schedule", "error", err)
		return
	}
	w.Logger.Info("config reloaded", "path", w.Path)
}

// apply replaces the running schedule with one built from cfg.
func (w *Watcher) apply(ctx context.Context, cfg *config.Config) error {
	rn, err := w.Build(cfg)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.Logger})))
	names := make(map[string]bool)
	for i := range cfg.Targets {
		t := cfg.Targets[i]
		if !t.Trigger.Scheduled() {
			continue
		}
		job, err := rn.JobFor(&t)
		if err != nil {
			return err
		}
		spec := t.Trigger.Cron
		if t.Trigger.Interval != "" {
			spec = "@every " + t.Trigger.Interval
		}
		pol := policyFor(t.Cooldown)
		if _, err := c.AddFunc(spec, func() { w.tick(ctx, rn, job, pol) }); err != nil {
			return fmt.Errorf("target %s: scheduling %q: %w", t.Name, spec, err)
		}
		names[t.Name] = true
		w.Logger.Info("scheduled", "target", t.Name, "trigger", spec)
	}
	if len(names) == 0 {
		return ErrNothingScheduled
	}

	w.mu.Lock()
	old := w.cron
	w.cron = c
	for name := range w.targets {
		if !names[name] {
			delete(w.targets, name)
		}
	}
	w.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	c.Start()
	return nil
}

func (w *Watcher) stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (w *Watcher) track(name string) *tracked {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.targets[name]; ok {
		return t
	}
	pause := w.BreakerPause
	if pause == 0 {
		pause = breakerPause
	}
	t := &tracked{breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     pause,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.Logger.Warn("target circuit changed", "target", name, "from", from.String(), "to", to.String())
		},
	})}
	w.targets[name] = t
	return t
}

var errCritical = errors.New("critical")

// tick runs one scheduled diagnosis of job and notifies per the policy. It
// reports whether a notification went out.
func (w *Watcher) tick(ctx context.Context, rn *runner.Runner, job runner.Job, pol policy) (runner.Result, bool) {
	name := job.Target.Name
	t := w.track(name)

	var result runner.Result
	_, err := t.breaker.Execute(func() (any, error) {
		result = rn.Evaluate(ctx, job)
		if result.Report == nil || result.Report.Status == report.OverallCritical {
			return nil, errCritical
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.Logger.Info("target suspended after repeated critical runs", "target", name)
		return result, false
	}
	if result.Err != nil {
		w.Logger.Error("scheduled run failed", "target", name, "stage", result.ErrStage, "error", result.Err)
		if result.Report == nil {
			return result, false
		}
	}

	status := result.Report.Status
	t.mu.Lock()
	notify := t.hist.due(pol, status, w.now())
	if !notify && status == report.OverallPassed {
		t.hist.record(status, w.now())
	}
	t.mu.Unlock()

	if !notify {
		w.Logger.Debug("notification suppressed", "target", name, "status", status)
		return result, false
	}
	rn.Deliver(&result, w.DryRun)
	if result.ErrStage == "notify" {
		// Not recorded, so the next run retries.
		w.Logger.Error("notify failed", "target", name, "error", result.Err)
		return result, false
	}
	t.mu.Lock()
	t.hist.record(status, w.now())
	t.mu.Unlock()
	return result, true
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
