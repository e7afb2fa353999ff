package runner

import (
	"time"

	"github.com/sznuper/smbdoctor/internal/notify"
	"github.com/sznuper/smbdoctor/internal/report"
)

// Exit codes beyond the report's own 0/1/2.
const ExitUsage = 3

// Result captures the outcome of running a single target through the
// pipeline. Errors are stored in Err/ErrStage rather than returned, so the
// caller always has something to display.
type Result struct {
	TargetName string
	Report     *report.Report    // nil when the run never started
	Rendered   map[string]string // service name → rendered message
	Notified   []string          // services notified (or would-notify)
	DryRun     bool
	Duration   time.Duration
	Err        error
	ErrStage   string // "build", "diagnose", "template", "notify"

	targets []notify.Target
}

// Status is the report's overall status, or critical when there is no
// report.
func (r *Result) Status() report.Overall {
	if r.Report == nil {
		return report.OverallCritical
	}
	return r.Report.Status
}

// ExitCode maps the result to the CLI convention: 0 passed, 1 warning,
// 2 critical, 3 when the target or configuration could not be used.
func (r *Result) ExitCode() int {
	if r.Report == nil {
		return ExitUsage
	}
	return r.Report.Status.ExitCode()
}
