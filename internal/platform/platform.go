// Package platform implements probe.Adapter for windows, darwin and linux by
// driving the operating system's own SMB tools.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/probe"
)

// DefaultCommandTimeout bounds tool invocations that have no tighter caller
// deadline.
const DefaultCommandTimeout = 15 * time.Second

// Config tunes an adapter.
type Config struct {
	// MountBase is where generated mount points are created (linux, darwin).
	MountBase string
	// UseSudo prefixes mount and umount with sudo (linux).
	UseSudo bool
	// Run replaces command execution; nil uses Exec.
	Run Runner
}

// New returns the adapter for goos.
func New(goos string, cfg Config) (probe.Adapter, error) {
	b := newBase(cfg)
	switch goos {
	case "windows":
		return &Windows{base: b}, nil
	case "darwin":
		return &Darwin{base: b}, nil
	case "linux":
		return &Linux{base: b}, nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", goos)
	}
}

// Detect returns the adapter for the running system.
func Detect(cfg Config) (probe.Adapter, error) {
	return New(runtime.GOOS, cfg)
}

type base struct {
	run       Runner
	lookPath  func(string) (string, error)
	readFile  func(string) ([]byte, error)
	stat      func(string) (os.FileInfo, error)
	dial      func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error)
	mountBase string
	useSudo   bool
}

func newBase(cfg Config) base {
	run := cfg.Run
	if run == nil {
		run = Exec
	}
	mountBase := cfg.MountBase
	if mountBase == "" {
		mountBase = filepath.Join(os.TempDir(), "smbdoctor")
	}
	return base{
		run:       run,
		lookPath:  exec.LookPath,
		readFile:  os.ReadFile,
		stat:      os.Stat,
		dial:      dialTCP,
		mountBase: mountBase,
		useSudo:   cfg.UseSudo,
	}
}

func dialTCP(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, network, addr)
}

func (b *base) command(ctx context.Context, path string, args ...string) (*ExecResult, error) {
	return b.run(ctx, ExecOpts{Path: path, Args: args, Timeout: DefaultCommandTimeout})
}

// TCPConnect dials address:port once. Refused and timed-out connects are
// Closed; resolution and routing failures are Error with the cause.
func (b *base) TCPConnect(ctx context.Context, address string, port int, timeout time.Duration) (probe.PortState, error) {
	conn, err := b.dial(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)), timeout)
	if err == nil {
		conn.Close()
		return probe.PortOpen, nil
	}
	if ctx.Err() != nil {
		return probe.PortError, ctx.Err()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return probe.PortError, err
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return probe.PortClosed, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return probe.PortClosed, nil
	}
	return probe.PortError, err
}

// toolState reports a tool-backed service as Running when it is installed.
func (b *base) toolState(names ...string) probe.ServiceState {
	for _, name := range names {
		if _, err := b.lookPath(name); err == nil {
			return probe.ServiceRunning
		}
		for _, dir := range []string{"/sbin", "/usr/sbin"} {
			if _, err := b.stat(filepath.Join(dir, name)); err == nil {
				return probe.ServiceRunning
			}
		}
	}
	return probe.ServiceNotFound
}

// ping runs the system ping and reports whether any reply came back.
func (b *base) ping(ctx context.Context, args []string, replied func(*ExecResult) bool, timeout time.Duration, count int) (bool, error) {
	res, err := b.run(ctx, ExecOpts{
		Path:    "ping",
		Args:    args,
		Timeout: time.Duration(count)*timeout + time.Second,
	})
	var te *TimeoutError
	if errors.As(err, &te) {
		// A ping killed at a deadline heard nothing back.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return replied(res), nil
}

func seconds(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// commandError describes a tool that exited non-zero.
func commandError(tool string, res *ExecResult) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return fmt.Errorf("%s exited %d: %s", tool, res.ExitCode, msg)
}

// writeCredentialsFile writes c in the cifs credentials format to a private
// temporary file. The caller removes it.
func writeCredentialsFile(c *credential.Credential) (string, error) {
	f, err := os.CreateTemp("", "smbdoctor-*.cred")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.Chmod(0o600); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if _, err := f.WriteString(credential.Format(*c)); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
