package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sznuper/smbdoctor/internal/report"
)

func testTarget(t *testing.T) Target {
	t.Helper()
	target, err := NewTarget("fileserver.example.com").Share("Data").Timeout(time.Second).Build()
	require.NoError(t, err)
	return target
}

func passing(name string, prereqs ...string) Stage {
	return Stage{
		Name:          name,
		Capability:    ServiceRunning,
		Prerequisites: prereqs,
		Severity:      report.Critical,
		Run: func(ctx context.Context, env *Env) (Result, error) {
			return Pass(name + " ok"), nil
		},
	}
}

func failing(name string, sev report.Severity, prereqs ...string) Stage {
	return Stage{
		Name:          name,
		Capability:    NetworkReachable,
		Prerequisites: prereqs,
		Severity:      sev,
		Run: func(ctx context.Context, env *Env) (Result, error) {
			return Fail(name + " failed"), nil
		},
	}
}

func counting(s Stage, n *atomic.Int32) Stage {
	run := s.Run
	s.Run = func(ctx context.Context, env *Env) (Result, error) {
		n.Add(1)
		return run(ctx, env)
	}
	return s
}

func stageNames(r *report.Report) []string {
	var names []string
	for _, o := range r.Outcomes {
		names = append(names, o.Stage)
	}
	return names
}

func TestRun_OneOutcomePerStage(t *testing.T) {
	reg := NewRegistry(
		passing("a"),
		passing("b", "a"),
		passing("c"),
		passing("d", "b", "c"),
	)
	rep, err := New("test", nil).Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	assert.Len(t, rep.Outcomes, 4)
	assert.Equal(t, report.OverallPassed, rep.Status)
	assert.NotEmpty(t, rep.RunID)
}

func TestRun_RegistrationOrderBreaksTies(t *testing.T) {
	// d depends on a; b and c are independent. Ready set after a: {b, c, d}.
	reg := NewRegistry(
		passing("a"),
		passing("d", "a"),
		passing("b"),
		passing("c"),
	)
	for range 10 {
		rep, err := Run(context.Background(), testTarget(t), reg)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "d", "b", "c"}, stageNames(rep))
	}

	// A stage registered before its prerequisite still waits for it.
	reg = NewRegistry(
		passing("late", "early"),
		passing("early"),
		passing("other"),
	)
	rep, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late", "other"}, stageNames(rep))
}

func TestRun_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		reg  *Registry
		want string
	}{
		{"cycle", NewRegistry(passing("a", "c"), passing("b", "a"), passing("c", "b")), "dependency cycle"},
		{"self cycle", NewRegistry(passing("a", "a")), "dependency cycle: a -> a"},
		{"dangling", NewRegistry(passing("a", "ghost")), `requires unknown stage "ghost"`},
		{"duplicate", NewRegistry(passing("a"), passing("a")), "registered twice"},
		{"unnamed", NewRegistry(passing("")), "has no name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			stages := tt.reg.Stages()
			reg := NewRegistry()
			for _, s := range stages {
				reg.Register(counting(s, &calls))
			}

			rep, err := Run(context.Background(), testTarget(t), reg)
			require.Error(t, err)
			assert.Nil(t, rep)
			assert.True(t, IsConfigurationError(err))
			assert.ErrorContains(t, err, tt.want)
			assert.Zero(t, calls.Load())
		})
	}
}

func TestRun_FailedPrerequisiteSkipsDependents(t *testing.T) {
	var bCalls, cCalls atomic.Int32
	reg := NewRegistry(
		failing("reach", report.Critical),
		counting(passing("ports", "reach"), &bCalls),
		counting(passing("shares", "ports"), &cCalls),
		passing("service"),
	)
	rep, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)

	ports, _ := rep.Outcome("ports")
	assert.Equal(t, report.Skipped, ports.Status)
	assert.Equal(t, "prerequisite reach did not pass", ports.Detail)
	assert.Empty(t, ports.Facts)

	shares, _ := rep.Outcome("shares")
	assert.Equal(t, report.Skipped, shares.Status)
	assert.Equal(t, "prerequisite ports did not pass", shares.Detail)

	service, _ := rep.Outcome("service")
	assert.Equal(t, report.Passed, service.Status)

	assert.Zero(t, bCalls.Load())
	assert.Zero(t, cCalls.Load())
	assert.Equal(t, report.OverallCritical, rep.Status)
}

func TestRun_TimeoutYieldsCriticalFailure(t *testing.T) {
	const timeout = 80 * time.Millisecond
	tests := []struct {
		name string
		run  RunFunc
	}{
		{"honours context", func(ctx context.Context, env *Env) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}},
		{"never responds", func(ctx context.Context, env *Env) (Result, error) {
			select {}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(Stage{Name: "ports", Capability: PortOpen, Severity: report.Warning, Timeout: timeout, Run: tt.run})

			start := time.Now()
			rep, err := Run(context.Background(), testTarget(t), reg)
			elapsed := time.Since(start)
			require.NoError(t, err)

			o, _ := rep.Outcome("ports")
			assert.Equal(t, report.Failed, o.Status)
			assert.Equal(t, report.Critical, o.Severity)
			assert.Equal(t, "timed out after 80ms", o.Detail)
			assert.GreaterOrEqual(t, elapsed, timeout)
			assert.Less(t, elapsed, timeout+500*time.Millisecond)
		})
	}
}

func TestRun_ProbeErrorsAndPanicsAreContained(t *testing.T) {
	reg := NewRegistry(
		Stage{Name: "erroring", Capability: ServiceRunning, Severity: report.Warning, Run: func(ctx context.Context, env *Env) (Result, error) {
			return Result{}, errors.New("exec: \"sc\": executable file not found in %PATH%")
		}},
		Stage{Name: "panicking", Capability: PortOpen, Severity: report.Informational, Run: func(ctx context.Context, env *Env) (Result, error) {
			panic("boom")
		}},
		passing("after"),
	)
	rep, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 3)

	erroring, _ := rep.Outcome("erroring")
	assert.Equal(t, report.Failed, erroring.Status)
	assert.Equal(t, report.Critical, erroring.Severity)
	assert.Equal(t, "exec: \"sc\": executable file not found in %PATH%", erroring.Detail)

	panicking, _ := rep.Outcome("panicking")
	assert.Equal(t, report.Failed, panicking.Status)
	assert.Equal(t, report.Critical, panicking.Severity)
	assert.Equal(t, "panic: boom", panicking.Detail)

	after, _ := rep.Outcome("after")
	assert.Equal(t, report.Passed, after.Status)
}

func TestRun_ResultSeverityOverride(t *testing.T) {
	reg := NewRegistry(Stage{Name: "service", Capability: ServiceRunning, Severity: report.Critical, Run: func(ctx context.Context, env *Env) (Result, error) {
		return Fail("secondary stopped").WithSeverity(report.Warning), nil
	}})
	rep, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	assert.Equal(t, report.OverallWarning, rep.Status)
}

func TestRun_SkippedResultDropsFacts(t *testing.T) {
	reg := NewRegistry(Stage{Name: "access", Capability: ShareAccessible, Severity: report.Critical, Run: func(ctx context.Context, env *Env) (Result, error) {
		r := Skip("no share name supplied")
		r.Facts = []report.Fact{report.AccessFact{Path: `\\srv\x`}}
		return r, nil
	}})
	rep, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	o, _ := rep.Outcome("access")
	assert.Equal(t, report.Skipped, o.Status)
	assert.Empty(t, o.Facts)
	assert.Equal(t, report.OverallPassed, rep.Status)
}

func TestRun_CleanupFailureBecomesWarningNote(t *testing.T) {
	var released atomic.Int32
	reg := NewRegistry(Stage{Name: "mount", Capability: MountAttachable, Severity: report.Critical, Run: func(ctx context.Context, env *Env) (Result, error) {
		env.Defer("detach Z:", func(ctx context.Context) error {
			released.Add(1)
			return errors.New("device busy")
		})
		return Pass("attached"), nil
	}})
	rep, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)

	o, _ := rep.Outcome("mount")
	assert.Equal(t, report.Passed, o.Status)
	require.Len(t, o.Notes, 1)
	assert.Equal(t, report.NoteCleanupFailure, o.Notes[0].Kind)
	assert.Equal(t, report.Warning, o.Notes[0].Severity)
	assert.Equal(t, "cleanup detach Z: failed: device busy", o.Notes[0].Detail)
	assert.Equal(t, int32(1), released.Load())
	assert.Equal(t, report.OverallWarning, rep.Status)
}

func TestRun_CleanupRunsAfterPanicAndTimeout(t *testing.T) {
	var released atomic.Int32
	release := func(ctx context.Context) error {
		released.Add(1)
		return nil
	}
	reg := NewRegistry(
		Stage{Name: "panics", Capability: MountAttachable, Run: func(ctx context.Context, env *Env) (Result, error) {
			env.Defer("release", release)
			panic("attach exploded")
		}},
		Stage{Name: "hangs", Capability: MountAttachable, Timeout: 50 * time.Millisecond, Run: func(ctx context.Context, env *Env) (Result, error) {
			env.Defer("release", release)
			select {}
		}},
	)
	o := New("test", nil)
	o.CleanupGrace = 10 * time.Millisecond
	rep, err := o.Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), released.Load())

	hangs, _ := rep.Outcome("hangs")
	assert.Equal(t, "timed out after 50ms", hangs.Detail)
}

func TestRun_LateCleanupStillRuns(t *testing.T) {
	var released atomic.Int32
	registered := make(chan struct{})
	reg := NewRegistry(Stage{Name: "slow", Capability: MountAttachable, Timeout: 30 * time.Millisecond, Run: func(ctx context.Context, env *Env) (Result, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		env.Defer("release", func(ctx context.Context) error {
			released.Add(1)
			return nil
		})
		close(registered)
		return Result{}, ctx.Err()
	}})
	_, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("stage never registered its cleanup")
	}
	assert.Equal(t, int32(1), released.Load())
}

func TestRun_CancellationStopsBeforeNextStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var secondCalls, released atomic.Int32
	reg := NewRegistry(
		Stage{Name: "first", Capability: MountAttachable, Run: func(ctx context.Context, env *Env) (Result, error) {
			env.Defer("release", func(context.Context) error {
				released.Add(1)
				return nil
			})
			cancel()
			return Pass("done"), nil
		}},
		counting(passing("second"), &secondCalls),
	)
	rep, err := Run(ctx, testTarget(t), reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Equal(t, []string{"first"}, stageNames(rep))
	assert.Zero(t, secondCalls.Load())
	assert.Equal(t, int32(1), released.Load())
}

func TestRun_FactsVisibleToLaterStages(t *testing.T) {
	var seen []report.ShareFact
	reg := NewRegistry(
		Stage{Name: "shares", Capability: ShareEnumerable, Run: func(ctx context.Context, env *Env) (Result, error) {
			return Pass("1 share", report.ShareFact{Name: "Data", Type: report.ShareDisk}), nil
		}},
		Stage{Name: "mount", Capability: MountAttachable, Prerequisites: []string{"shares"}, Run: func(ctx context.Context, env *Env) (Result, error) {
			seen = report.FactsOf[report.ShareFact](env.FactsFor(ShareEnumerable))
			assert.Len(t, env.Facts("shares"), 1)
			return Pass("ok"), nil
		}},
	)
	_, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "Data", seen[0].Name)
}

func TestRun_TimedOutStageReadsOwnSnapshot(t *testing.T) {
	stop := make(chan struct{})
	var reads atomic.Int64
	stages := []Stage{
		passing("first"),
		{Name: "lingering", Capability: PortOpen, Severity: report.Warning, Timeout: 10 * time.Millisecond, Run: func(ctx context.Context, env *Env) (Result, error) {
			for {
				select {
				case <-stop:
					return Pass("done"), nil
				default:
				}
				env.Outcome("first")
				env.FactsFor(ServiceRunning)
				reads.Add(1)
			}
		}},
	}
	for i := range 200 {
		stages = append(stages, passing(fmt.Sprintf("quick-%03d", i), "lingering"))
	}
	reg := NewRegistry(stages...)

	rep, err := Run(context.Background(), testTarget(t), reg)
	close(stop)
	require.NoError(t, err)

	o, _ := rep.Outcome("lingering")
	assert.Equal(t, report.Failed, o.Status)
	assert.Equal(t, "timed out after 10ms", o.Detail)
	assert.Positive(t, reads.Load())
	assert.Len(t, rep.Outcomes, 202)
}

func TestRun_InvalidStatus(t *testing.T) {
	reg := NewRegistry(Stage{Name: "odd", Capability: PortOpen, Run: func(ctx context.Context, env *Env) (Result, error) {
		return Result{}, nil
	}})
	rep, err := Run(context.Background(), testTarget(t), reg)
	require.NoError(t, err)
	o, _ := rep.Outcome("odd")
	assert.Equal(t, report.Failed, o.Status)
	assert.Equal(t, report.Critical, o.Severity)
}

func TestRegister_CopiesPrerequisites(t *testing.T) {
	prereqs := []string{"a"}
	reg := NewRegistry(passing("a"), passing("b", prereqs...))
	prereqs[0] = "ghost"
	_, err := reg.Plan()
	require.NoError(t, err)
}
