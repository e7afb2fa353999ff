package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/probe"
	"github.com/sznuper/smbdoctor/internal/probe/probetest"
	"github.com/sznuper/smbdoctor/internal/report"
)

const listing = "Disk|Data|team files\nIPC|IPC$|IPC Service\n"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		Hostname: "probe-01",
		Options:  config.Options{CredentialsDir: os.TempDir()},
		Services: map[string]config.Service{
			"logger": {URL: "logger://"},
		},
		Targets: []config.Target{
			{
				Name:     "nas",
				Server:   "10.0.0.5",
				Share:    "Data",
				Template: `{{report.status | upper}} {{target.name}} from {{globals.hostname}}`,
				Notify:   []config.NotifyTarget{{Service: "logger"}},
			},
		},
	}
}

func newRunner(t *testing.T, cfg *config.Config, fake *probetest.Adapter) *Runner {
	t.Helper()
	r, err := New(cfg, fake, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRunTarget_Healthy(t *testing.T) {
	cfg := testConfig()
	fake := probetest.Healthy(listing)
	r := newRunner(t, cfg, fake)

	result := r.RunTarget(context.Background(), &cfg.Targets[0], true)
	if result.Err != nil {
		t.Fatalf("unexpected error at stage %q: %v", result.ErrStage, result.Err)
	}
	if result.Status() != report.OverallPassed {
		t.Errorf("status = %q, want passed", result.Status())
	}
	if result.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode())
	}
	if got := result.Rendered["logger"]; got != "PASSED nas from probe-01" {
		t.Errorf("rendered = %q", got)
	}
	if len(result.Notified) != 0 {
		t.Errorf("passed report notified %v", result.Notified)
	}
	if len(fake.Attached()) != 0 {
		t.Errorf("mount left attached: %v", fake.Attached())
	}
}

func TestRunTarget_CriticalNotifies(t *testing.T) {
	cfg := testConfig()
	fake := probetest.Healthy(listing)
	fake.Reachable = false
	cfg.Options.TCPFallback = "false"
	r := newRunner(t, cfg, fake)

	result := r.RunTarget(context.Background(), &cfg.Targets[0], true)
	if result.Err != nil {
		t.Fatalf("unexpected error at stage %q: %v", result.ErrStage, result.Err)
	}
	if result.ExitCode() != 2 {
		t.Errorf("exit code = %d, want 2", result.ExitCode())
	}
	if got := result.Rendered["logger"]; got != "CRITICAL nas from probe-01" {
		t.Errorf("rendered = %q", got)
	}
	if len(result.Notified) != 1 || result.Notified[0] != "logger" {
		t.Errorf("notified = %v, want [logger]", result.Notified)
	}
	if !result.DryRun {
		t.Error("expected dry run")
	}
}

func TestRunTarget_SendsForReal(t *testing.T) {
	cfg := testConfig()
	fake := probetest.Healthy("")
	r := newRunner(t, cfg, fake)

	result := r.RunTarget(context.Background(), &cfg.Targets[0], false)
	if result.Err != nil {
		t.Fatalf("unexpected error at stage %q: %v", result.ErrStage, result.Err)
	}
	if result.Status() != report.OverallWarning {
		t.Errorf("status = %q, want warning (no shares listed)", result.Status())
	}
	if len(result.Notified) != 1 {
		t.Errorf("notified = %v, want [logger]", result.Notified)
	}
}

func TestRunTarget_BuildFails(t *testing.T) {
	cfg := testConfig()
	cfg.Targets[0].Timeout = "soon"
	r := newRunner(t, cfg, probetest.Healthy(listing))

	result := r.RunTarget(context.Background(), &cfg.Targets[0], false)
	if result.Err == nil {
		t.Fatal("expected error")
	}
	if result.ErrStage != "build" {
		t.Errorf("err stage = %q, want build", result.ErrStage)
	}
	if result.ExitCode() != ExitUsage {
		t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitUsage)
	}
}

func TestRunTarget_TemplateFails(t *testing.T) {
	cfg := testConfig()
	cfg.Targets[0].Template = "{{report.status"
	r := newRunner(t, cfg, probetest.Healthy(listing))

	result := r.RunTarget(context.Background(), &cfg.Targets[0], false)
	if result.ErrStage != "template" {
		t.Fatalf("err stage = %q, want template (err %v)", result.ErrStage, result.Err)
	}
	if result.Report == nil {
		t.Error("report should survive a template failure")
	}
}

func TestRunTarget_NotifyValidationFails(t *testing.T) {
	cfg := testConfig()
	cfg.Services["broken"] = config.Service{URL: "nosuchservice://x"}
	cfg.Targets[0].Notify = []config.NotifyTarget{{Service: "broken"}}
	fake := probetest.Healthy(listing)
	fake.Ports[probe.PortSMB] = probe.PortClosed
	r := newRunner(t, cfg, fake)

	result := r.RunTarget(context.Background(), &cfg.Targets[0], true)
	if result.ErrStage != "notify" {
		t.Fatalf("err stage = %q, want notify (err %v)", result.ErrStage, result.Err)
	}
	if result.ExitCode() != 2 {
		t.Errorf("exit code = %d, want 2", result.ExitCode())
	}
}

func TestRun_StaticCredential(t *testing.T) {
	cfg := testConfig()
	fake := probetest.Healthy(listing)
	r := newRunner(t, cfg, fake)

	ref := r.Credentials().Put("prompt", credential.Credential{Username: "alice", Password: "s3cret", Domain: "CORP"})
	target, err := engine.NewTarget("10.0.0.5").Share("Data").Credential(ref).Build()
	if err != nil {
		t.Fatal(err)
	}

	result := r.Run(context.Background(), Job{Target: target}, false)
	if result.Err != nil {
		t.Fatalf("unexpected error at stage %q: %v", result.ErrStage, result.Err)
	}
	got := fake.LastCredential()
	if got == nil || got.Username != "alice" || got.Domain != "CORP" {
		t.Errorf("credential = %v, want CORP\\alice", got)
	}
	if len(result.Rendered) != 0 {
		t.Errorf("rendered = %v, want none without notify targets", result.Rendered)
	}
}

func TestRun_Cancelled(t *testing.T) {
	cfg := testConfig()
	r := newRunner(t, cfg, probetest.Healthy(listing))
	job, err := r.JobFor(&cfg.Targets[0])
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := r.Run(ctx, job, false)
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", result.Err)
	}
	if result.ErrStage != "diagnose" {
		t.Errorf("err stage = %q, want diagnose", result.ErrStage)
	}
}

func TestRunAll(t *testing.T) {
	cfg := testConfig()
	cfg.Targets = append(cfg.Targets, config.Target{Name: "bad", Server: "not a host!"})
	r := newRunner(t, cfg, probetest.Healthy(listing))

	results := r.RunAll(context.Background(), true)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("nas: %v", results[0].Err)
	}
	if results[1].ErrStage != "build" || !strings.Contains(results[1].Err.Error(), "target bad") {
		t.Errorf("bad: stage %q err %v", results[1].ErrStage, results[1].Err)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Options.PingCount = "0"
	if _, err := New(cfg, probetest.Healthy(listing), testLogger()); err == nil {
		t.Fatal("expected error for ping_count 0")
	}
}
