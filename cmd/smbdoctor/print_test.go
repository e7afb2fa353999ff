package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/report"
	"github.com/sznuper/smbdoctor/internal/runner"
)

func sampleResult() runner.Result {
	return runner.Result{
		TargetName: "nas",
		Report: &report.Report{
			RunID:    "0123456789abcdef",
			Target:   report.TargetInfo{Name: "nas", Server: "10.0.0.5", Share: "Data", Timeout: "10s"},
			Platform: "linux",
			Duration: 1234 * time.Millisecond,
			Status:   report.OverallWarning,
			Outcomes: []report.Outcome{
				{Stage: "ports", Status: report.Passed, Severity: report.Critical, Detail: "ports 445 and 139 open"},
				{Stage: "shares", Status: report.Failed, Severity: report.Warning, Detail: "no shares advertised by 10.0.0.5"},
				{Stage: "mount", Status: report.Passed, Notes: []report.Note{{Kind: report.NoteInfo, Detail: "share Data not advertised"}}},
			},
		},
		Rendered: map[string]string{"log": "WARNING nas", "telegram": "WARNING nas"},
		Notified: []string{"log", "telegram"},
		DryRun:   true,
	}
}

func TestPrintResult(t *testing.T) {
	styles = newPalette(false)
	var buf bytes.Buffer
	printResult(&buf, sampleResult())
	out := buf.String()

	for _, want := range []string{
		"! WARNING nas (10.0.0.5/Data)",
		"run 01234567, 1.234s on linux",
		"shares",
		"warning   no shares advertised by 10.0.0.5",
		"note: share Data not advertised",
		`Rendered: "WARNING nas"`,
		"Would notify: log, telegram",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResult_NoReport(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, runner.Result{TargetName: "bad", Err: errors.New("invalid target"), ErrStage: "build"})
	if !strings.Contains(buf.String(), "Error (build): invalid target") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, []runner.Result{sampleResult()}); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, buf.String())
	}
	if got["status"] != "warning" || got["run_id"] != "0123456789abcdef" {
		t.Errorf("json = %v", got)
	}
	if _, ok := got["error"]; ok {
		t.Error("unexpected error field")
	}

	buf.Reset()
	results := []runner.Result{sampleResult(), {TargetName: "bad", Err: errors.New("boom"), ErrStage: "build"}}
	if err := printJSON(&buf, results); err != nil {
		t.Fatal(err)
	}
	var list []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &list); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(list) != 2 || list[1]["name"] != "bad" || list[1]["error_stage"] != "build" {
		t.Errorf("json = %v", list)
	}
}

func TestApplyOptionFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	registerOptionFlags(cmd)
	if err := cmd.ParseFlags([]string{"--ping-count", "5", "--use-sudo=true"}); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{Options: config.Options{PingCount: "2", MountBase: "/mnt"}}
	applyOptionFlags(cmd, cfg)
	if cfg.Options.PingCount != "5" || cfg.Options.UseSudo != "true" {
		t.Errorf("options = %+v", cfg.Options)
	}
	if cfg.Options.MountBase != "/mnt" {
		t.Errorf("unset flag overwrote mount_base: %q", cfg.Options.MountBase)
	}
}
