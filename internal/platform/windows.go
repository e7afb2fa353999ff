package platform

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/parse"
	"github.com/sznuper/smbdoctor/internal/probe"
)

// Windows drives sc, net view and net use.
type Windows struct {
	base
}

// net.exe reports failures as "System error N".
var netAuthMarkers = []string{
	"System error 5 ",
	"System error 5.",
	"System error 86",
	"System error 1326",
	"System error 1327",
	"System error 1330",
	"System error 1331",
}

// sc.exe exit code for a service that does not exist.
const scServiceDoesNotExist = 1060

func (w *Windows) Profile() probe.Profile {
	return probe.Profile{
		OS:        "windows",
		Primary:   []string{"LanmanWorkstation"},
		Secondary: []string{"LanmanServer"},
		Listing:   parse.NetView,
		Mounts:    parse.NetUse,
	}
}

func (w *Windows) SharePath(server, share string) string {
	return `\\` + server + `\` + share
}

func (w *Windows) Identifiers() allocator.Space {
	return allocator.DriveLetters
}

func (w *Windows) QueryServiceState(ctx context.Context, name string) (probe.ServiceState, error) {
	res, err := w.command(ctx, "sc", "query", name)
	if err != nil {
		return probe.ServiceNotFound, err
	}
	switch {
	case res.ExitCode == scServiceDoesNotExist:
		return probe.ServiceNotFound, nil
	case res.ExitCode != 0:
		return probe.ServiceNotFound, commandError("sc", res)
	case strings.Contains(res.Stdout, "RUNNING"):
		return probe.ServiceRunning, nil
	default:
		return probe.ServiceStopped, nil
	}
}

func (w *Windows) ReachabilityProbe(ctx context.Context, address string, count int, timeout time.Duration) (bool, error) {
	args := []string{"-n", strconv.Itoa(count), "-w", strconv.FormatInt(timeout.Milliseconds(), 10), address}
	// Windows ping exits 0 on "Destination host unreachable" replies from a
	// gateway; only a TTL line is a real echo reply.
	replied := func(r *ExecResult) bool {
		return r.ExitCode == 0 && strings.Contains(r.Stdout, "TTL=")
	}
	return w.ping(ctx, args, replied, timeout, count)
}

func (w *Windows) netUse(ctx context.Context, args ...string) error {
	res, err := w.command(ctx, "net", append([]string{"use"}, args...)...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if containsAny(res.Output(), netAuthMarkers...) {
			return probe.ErrAuthRejected
		}
		return commandError("net use", res)
	}
	return nil
}

func credentialArgs(cred *credential.Credential) []string {
	if cred == nil {
		return nil
	}
	return []string{cred.Password, "/user:" + cred.Account()}
}

// session opens an authenticated connection to remote for the duration of
// one probe. net view and plain file access reuse it.
func (w *Windows) session(ctx context.Context, remote string, cred *credential.Credential) (func(), error) {
	if cred == nil {
		return func() {}, nil
	}
	if err := w.netUse(ctx, append([]string{remote}, credentialArgs(cred)...)...); err != nil {
		return nil, err
	}
	return func() {
		_ = w.netUse(context.WithoutCancel(ctx), remote, "/delete", "/y")
	}, nil
}

func (w *Windows) ListShares(ctx context.Context, address string, cred *credential.Credential) (string, error) {
	closeSession, err := w.session(ctx, `\\`+address+`\IPC$`, cred)
	if err != nil {
		return "", err
	}
	defer closeSession()

	res, err := w.command(ctx, "net", "view", `\\`+address)
	if err != nil {
		return "", err
	}
	if containsAny(res.Output(), netAuthMarkers...) {
		return "", probe.ErrAuthRejected
	}
	if res.ExitCode != 0 {
		return "", commandError("net view", res)
	}
	return res.Stdout, nil
}

func (w *Windows) CheckPathAccessible(ctx context.Context, path string, cred *credential.Credential) (bool, error) {
	closeSession, err := w.session(ctx, path, cred)
	if err != nil {
		return false, err
	}
	defer closeSession()

	info, err := w.stat(path + `\`)
	if err != nil {
		return false, nil
	}
	return info.IsDir(), nil
}

func (w *Windows) Attach(ctx context.Context, id, path string, cred *credential.Credential) error {
	args := append([]string{id, path}, credentialArgs(cred)...)
	return w.netUse(ctx, append(args, "/persistent:no")...)
}

func (w *Windows) Detach(ctx context.Context, id string) error {
	return w.netUse(ctx, id, "/delete", "/y")
}

// ListInUseIdentifiers merges net use mappings with local drive roots.
func (w *Windows) ListInUseIdentifiers(ctx context.Context) ([]string, error) {
	res, err := w.command(ctx, "net", "use")
	if err != nil {
		return nil, err
	}
	mounts, err := parse.Mounts(parse.NetUse, res.Stdout)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range mounts {
		ids = append(ids, m.Identifier)
	}
	for c := 'A'; c <= 'Z'; c++ {
		letter := string(c) + ":"
		if _, err := w.stat(letter + `\`); err == nil {
			ids = append(ids, letter)
		}
	}
	return ids, nil
}
