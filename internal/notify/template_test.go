package notify

import (
	"testing"
	"time"

	"github.com/sznuper/smbdoctor/internal/report"
)

func sampleReport() *report.Report {
	return &report.Report{
		RunID:    "run-1",
		Target:   report.TargetInfo{Name: "nas", Server: "10.0.0.5", Share: "Data", Timeout: "10s"},
		Platform: "linux",
		Duration: 1500 * time.Millisecond,
		Status:   report.OverallCritical,
		Outcomes: []report.Outcome{
			{Stage: "reachability", Status: report.Passed, Severity: report.Critical, Detail: "reachable via icmp"},
			{Stage: "ports", Status: report.Failed, Severity: report.Critical, Detail: "port 445/smb closed"},
			{Stage: "shares", Status: report.Skipped, Severity: report.Warning, Detail: "prerequisite ports did not pass"},
			{
				Stage: "mount", Status: report.Passed, Severity: report.Critical,
				Notes: []report.Note{{Kind: report.NoteCleanupFailure, Severity: report.Warning, Detail: "cleanup detach Z: failed"}},
			},
		},
	}
}

func TestRender_Accessors(t *testing.T) {
	data := BuildTemplateData(map[string]any{"hostname": "probe-01"}, sampleReport())

	tests := []struct {
		tmpl string
		want string
	}{
		{`{{report.status}}`, "critical"},
		{`{{report.status_emoji}}`, "\U0001f534"},
		{`{{report.passed}}/{{report.failed}}/{{report.skipped}}`, "2/1/1"},
		{`{{report.duration}}`, "1.5s"},
		{`{{report.problems}}`, "ports: port 445/smb closed"},
		{`{{target.server}}/{{target.share}}`, "10.0.0.5/Data"},
		{`{{globals.hostname}}`, "probe-01"},
		{`{{len outcomes}}`, "4"},
		{`{{report.status | upper}}`, "CRITICAL"},
		{`{{target.name | default "none"}}`, "nas"},
	}
	for _, tt := range tests {
		got, err := Render(tt.tmpl, data)
		if err != nil {
			t.Errorf("Render(%q): %v", tt.tmpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestStatusEmoji(t *testing.T) {
	tests := map[string]string{
		"passed":   "\U0001f7e2",
		"warning":  "\U0001f7e1",
		"critical": "\U0001f534",
		"other":    "❓",
	}
	for status, want := range tests {
		if got := statusEmoji(status); got != want {
			t.Errorf("statusEmoji(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render(`{{report.status`, TemplateData{})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBuildTemplateData_NoCredentials(t *testing.T) {
	data := BuildTemplateData(nil, sampleReport())
	for k := range data.Target {
		if k == "credential" || k == "password" || k == "username" {
			t.Errorf("target data exposes %q", k)
		}
	}
}
