package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sznuper/smbdoctor/internal/probe"
)

// ExecResult holds the output of one command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// Output returns stdout and stderr joined, for marker matching.
func (r *ExecResult) Output() string {
	return r.Stdout + "\n" + r.Stderr
}

// ExecOpts configures one command.
type ExecOpts struct {
	Path    string
	Args    []string
	Timeout time.Duration
	Env     map[string]string
	Stdin   []byte
}

// Runner executes a command. Adapters take one so tests can script tool
// output without the tools installed.
type Runner func(ctx context.Context, opts ExecOpts) (*ExecResult, error)

// Exec runs a command and captures its output.
// Non-zero exit codes are captured (not treated as errors).
// Timeouts and missing executables are errors.
func Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	parent := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, opts.Path, opts.Args...)
	cmd.Env = buildEnv(opts)
	// Tools like mount.cifs can fork helpers that keep our pipes open.
	cmd.WaitDelay = time.Second

	if len(opts.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, &TimeoutError{
				Path:    opts.Path,
				Elapsed: duration,
				Limit:   opts.Timeout,
				Caller:  parent.Err() != nil,
			}
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("%w: %s", probe.ErrToolMissing, opts.Path)
		}
		return result, fmt.Errorf("executing %s: %w", opts.Path, err)
	}

	return result, nil
}

// TimeoutError reports a command killed at a deadline. Caller is set when
// the context passed to Exec expired before the command's own Timeout.
type TimeoutError struct {
	Path    string
	Elapsed time.Duration
	Limit   time.Duration
	Caller  bool
}

func (e *TimeoutError) Error() string {
	elapsed := e.Elapsed.Round(time.Millisecond)
	if e.Caller {
		return fmt.Sprintf("%s stopped after %s: caller deadline expired", e.Path, elapsed)
	}
	return fmt.Sprintf("%s timed out after %s", e.Path, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// buildEnv inherits the caller's environment (tools need PATH and HOME) and
// forces the C locale so output markers are stable.
func buildEnv(opts ExecOpts) []string {
	env := os.Environ()
	env = append(env, "LC_ALL=C", "LANG=C")
	for k, v := range opts.Env {
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}
