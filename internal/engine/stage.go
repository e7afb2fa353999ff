package engine

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/sznuper/smbdoctor/internal/report"
)

// Capability is the kind of check a stage performs.
type Capability int

const (
	ServiceRunning Capability = iota + 1
	NetworkReachable
	PortOpen
	ShareEnumerable
	ShareAccessible
	MountAttachable
)

func (c Capability) String() string {
	switch c {
	case ServiceRunning:
		return "service_running"
	case NetworkReachable:
		return "network_reachable"
	case PortOpen:
		return "port_open"
	case ShareEnumerable:
		return "share_enumerable"
	case ShareAccessible:
		return "share_accessible"
	case MountAttachable:
		return "mount_attachable"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// RunFunc performs a stage's check. Expected negative results (closed port,
// unreachable host, rejected credentials) are reported through the Result.
// A non-nil error means the probe itself misbehaved and is recorded as a
// Critical failure carrying the error text.
type RunFunc func(ctx context.Context, env *Env) (Result, error)

// Stage is one diagnostic unit. Stages are immutable once registered.
type Stage struct {
	Name          string
	Capability    Capability
	Prerequisites []string
	// Severity applies when the stage fails, unless the Result overrides it.
	Severity report.Severity
	// Timeout bounds one invocation; zero uses the orchestrator default.
	Timeout time.Duration
	Run     RunFunc
}

// Result is what a RunFunc hands back to the orchestrator.
type Result struct {
	Status   report.Status
	Detail   string
	Facts    []report.Fact
	Notes    []report.Note
	severity *report.Severity
}

// Pass builds a Passed result.
func Pass(detail string, facts ...report.Fact) Result {
	return Result{Status: report.Passed, Detail: detail, Facts: facts}
}

// Fail builds a Failed result at the stage's declared severity.
func Fail(detail string, facts ...report.Fact) Result {
	return Result{Status: report.Failed, Detail: detail, Facts: facts}
}

// Skip builds a Skipped result. Facts are never attached to skipped stages.
func Skip(detail string) Result {
	return Result{Status: report.Skipped, Detail: detail}
}

// WithSeverity overrides the stage's declared severity for this result.
func (r Result) WithSeverity(s report.Severity) Result {
	r.severity = &s
	return r
}

// WithNote appends an annotation to the result.
func (r Result) WithNote(kind report.NoteKind, sev report.Severity, detail string) Result {
	r.Notes = append(append([]report.Note(nil), r.Notes...), report.Note{Kind: kind, Severity: sev, Detail: detail})
	return r
}

type cleanup struct {
	name string
	fn   func(context.Context) error
}

// Env is a stage's view of the run: the target, the outcomes of stages that
// already finished, and a cleanup stack the orchestrator always drains.
type Env struct {
	Target Target

	prior map[string]report.Outcome
	order []string

	mu       sync.Mutex
	cleanups []cleanup
	drained  bool
	late     func(name string, fn func(context.Context) error)
}

func newEnv(target Target, prior map[string]report.Outcome, order []string) *Env {
	// The stage goroutine can outlive its deadline, so it gets its own copy.
	return &Env{Target: target, prior: maps.Clone(prior), order: order}
}

// Outcome returns the outcome of an earlier stage.
func (e *Env) Outcome(stage string) (report.Outcome, bool) {
	o, ok := e.prior[stage]
	return o, ok
}

// Facts returns the facts recorded by an earlier stage.
func (e *Env) Facts(stage string) []report.Fact {
	return e.prior[stage].Facts
}

// FactsFor collects facts from every earlier Passed stage with capability c,
// in execution order. It lets a stage consult e.g. the share listing without
// knowing the listing stage's registered name.
func (e *Env) FactsFor(c Capability) []report.Fact {
	var out []report.Fact
	for _, name := range e.order {
		o := e.prior[name]
		if o.Capability == c.String() && o.Status == report.Passed {
			out = append(out, o.Facts...)
		}
	}
	return out
}

// Defer registers fn to run after the stage finishes, times out, panics, or
// is cancelled. Cleanups run last-in first-out on a context detached from the
// run's cancellation. A failing cleanup becomes a Warning note on the outcome.
func (e *Env) Defer(name string, fn func(context.Context) error) {
	e.mu.Lock()
	if e.drained {
		late := e.late
		e.mu.Unlock()
		// The orchestrator already moved on (timeout); run it ourselves.
		if late != nil {
			late(name, fn)
		}
		return
	}
	e.cleanups = append(e.cleanups, cleanup{name: name, fn: fn})
	e.mu.Unlock()
}

func (e *Env) hasCleanups() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cleanups) > 0
}

// drain hands over pending cleanups and routes later registrations to late.
func (e *Env) drain(late func(name string, fn func(context.Context) error)) []cleanup {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := e.cleanups
	e.cleanups = nil
	e.drained = true
	e.late = late
	return pending
}
