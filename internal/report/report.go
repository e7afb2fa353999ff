// Package report holds the structured result of one diagnostic run: an ordered
// list of stage outcomes plus a derived overall status. Nothing in here renders
// to a terminal; presentation is left to callers.
package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the weight a failed stage (or a note) carries in the overall
// status. Ordered: Informational < Warning < Critical.
type Severity int

const (
	Informational Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Informational:
		return "informational"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "informational", "info":
		*s = Informational
	case "warning":
		*s = Warning
	case "critical":
		*s = Critical
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// Status is the terminal state of one stage.
type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Skipped Status = "skipped"
)

// Overall is the folded status of a whole report.
type Overall string

const (
	OverallPassed   Overall = "passed"
	OverallWarning  Overall = "warning"
	OverallCritical Overall = "critical"
)

// ExitCode maps an overall status to the CLI exit convention:
// 0 passed, 1 warning, 2 critical.
func (o Overall) ExitCode() int {
	switch o {
	case OverallCritical:
		return 2
	case OverallWarning:
		return 1
	default:
		return 0
	}
}

// NoteKind classifies an annotation attached to an outcome.
type NoteKind string

const (
	NoteCleanupFailure NoteKind = "cleanup_failure"
	NoteInfo           NoteKind = "info"
)

// Note is an annotation that does not change an outcome's Status but may
// still raise the overall report status (a Warning-severity cleanup failure).
type Note struct {
	Kind     NoteKind `json:"kind"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Outcome is the terminal result of one stage for one run.
type Outcome struct {
	Stage      string
	Capability string
	Status     Status
	Severity   Severity
	Detail     string
	Facts      []Fact
	Notes      []Note
	Duration   time.Duration
}

type factJSON struct {
	Kind string `json:"kind"`
	Data Fact   `json:"data"`
}

type outcomeJSON struct {
	Stage      string     `json:"stage"`
	Capability string     `json:"capability"`
	Status     Status     `json:"status"`
	Severity   Severity   `json:"severity"`
	Detail     string     `json:"detail"`
	Facts      []factJSON `json:"facts,omitempty"`
	Notes      []Note     `json:"notes,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Stage:      o.Stage,
		Capability: o.Capability,
		Status:     o.Status,
		Severity:   o.Severity,
		Detail:     o.Detail,
		Notes:      o.Notes,
		DurationMS: o.Duration.Milliseconds(),
	}
	for _, f := range o.Facts {
		out.Facts = append(out.Facts, factJSON{Kind: f.Kind(), Data: f})
	}
	return json.Marshal(out)
}

// failedAt reports whether the outcome counts against the overall status at
// the given severity.
func (o Outcome) failedAt(sev Severity) bool {
	if o.Status == Failed && o.Severity == sev {
		return true
	}
	for _, n := range o.Notes {
		if n.Severity == sev && n.Kind == NoteCleanupFailure {
			return true
		}
	}
	return false
}

// TargetInfo identifies what was diagnosed. Credentials are never included.
type TargetInfo struct {
	Name    string `json:"name,omitempty"`
	Server  string `json:"server"`
	Share   string `json:"share,omitempty"`
	Timeout string `json:"timeout"`
}

// Report is the ordered sequence of outcomes for one run.
type Report struct {
	RunID    string        `json:"run_id"`
	Target   TargetInfo    `json:"target"`
	Platform string        `json:"platform"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"-"`
	Outcomes []Outcome     `json:"outcomes"`
	Status   Overall       `json:"status"`
}

// Finish freezes the report: it derives the overall status and records the
// wall-clock duration since Started.
func (r *Report) Finish() {
	r.Status = Fold(r.Outcomes)
	if !r.Started.IsZero() {
		r.Duration = time.Since(r.Started)
	}
}

// Outcome returns the outcome recorded for the named stage.
func (r *Report) Outcome(stage string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Stage == stage {
			return o, true
		}
	}
	return Outcome{}, false
}

// Counts returns how many outcomes ended in each status.
func (r *Report) Counts() (passed, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case Passed:
			passed++
		case Failed:
			failed++
		case Skipped:
			skipped++
		}
	}
	return passed, failed, skipped
}

// Fold derives the overall status from a set of outcomes. Critical if any
// Critical-severity failure exists, else Warning if any Warning-severity
// failure or cleanup note exists, else Passed. The result does not depend on
// the order of outcomes.
func Fold(outcomes []Outcome) Overall {
	warn := false
	for _, o := range outcomes {
		if o.failedAt(Critical) {
			return OverallCritical
		}
		if o.failedAt(Warning) {
			warn = true
		}
	}
	if warn {
		return OverallWarning
	}
	return OverallPassed
}
