package platform

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/parse"
	"github.com/sznuper/smbdoctor/internal/probe"
)

// Linux drives smbclient and mount.cifs.
type Linux struct {
	base
}

var smbclientAuthMarkers = []string{
	"NT_STATUS_LOGON_FAILURE",
	"NT_STATUS_ACCESS_DENIED",
	"NT_STATUS_ACCOUNT_DISABLED",
	"NT_STATUS_PASSWORD_EXPIRED",
}

var smbclientMissingMarkers = []string{
	"NT_STATUS_BAD_NETWORK_NAME",
	"NT_STATUS_OBJECT_NAME_NOT_FOUND",
}

func (l *Linux) Profile() probe.Profile {
	return probe.Profile{
		OS:        "linux",
		Primary:   []string{"smbclient"},
		Secondary: []string{"mount.cifs"},
		Listing:   parse.SmbclientGrep,
		Mounts:    parse.ProcMounts,
	}
}

func (l *Linux) SharePath(server, share string) string {
	return "//" + server + "/" + share
}

func (l *Linux) Identifiers() allocator.Space {
	return allocator.MountPointSpace{Base: l.mountBase}
}

func (l *Linux) QueryServiceState(_ context.Context, name string) (probe.ServiceState, error) {
	if name == "mount.cifs" {
		// smbmount is the pre-cifs-utils name of the same helper.
		return l.toolState("mount.cifs", "smbmount"), nil
	}
	return l.toolState(name), nil
}

func (l *Linux) ReachabilityProbe(ctx context.Context, address string, count int, timeout time.Duration) (bool, error) {
	args := []string{"-c", strconv.Itoa(count), "-W", seconds(timeout), address}
	return l.ping(ctx, args, func(r *ExecResult) bool { return r.ExitCode == 0 }, timeout, count)
}

// authArgs returns smbclient's credential flags and a cleanup for any
// temporary file they reference.
func (l *Linux) authArgs(cred *credential.Credential) ([]string, func(), error) {
	if cred == nil {
		return []string{"-N"}, func() {}, nil
	}
	path, err := writeCredentialsFile(cred)
	if err != nil {
		return nil, nil, fmt.Errorf("writing credentials file: %w", err)
	}
	return []string{"-A", path}, func() { os.Remove(path) }, nil
}

func (l *Linux) ListShares(ctx context.Context, address string, cred *credential.Credential) (string, error) {
	auth, cleanup, err := l.authArgs(cred)
	if err != nil {
		return "", err
	}
	defer cleanup()

	res, err := l.command(ctx, "smbclient", append([]string{"-L", address, "-g"}, auth...)...)
	if err != nil {
		return "", err
	}
	if containsAny(res.Output(), smbclientAuthMarkers...) {
		return "", probe.ErrAuthRejected
	}
	if res.ExitCode != 0 {
		return "", commandError("smbclient", res)
	}
	return res.Stdout, nil
}

func (l *Linux) CheckPathAccessible(ctx context.Context, path string, cred *credential.Credential) (bool, error) {
	auth, cleanup, err := l.authArgs(cred)
	if err != nil {
		return false, err
	}
	defer cleanup()

	res, err := l.command(ctx, "smbclient", append([]string{path, "-c", "ls"}, auth...)...)
	if err != nil {
		return false, err
	}
	out := res.Output()
	switch {
	case containsAny(out, smbclientAuthMarkers...):
		return false, probe.ErrAuthRejected
	case containsAny(out, smbclientMissingMarkers...):
		return false, nil
	case res.ExitCode != 0:
		return false, commandError("smbclient", res)
	}
	return true, nil
}

func (l *Linux) privileged(name string, args ...string) (string, []string) {
	if l.useSudo {
		return "sudo", append([]string{"-n", name}, args...)
	}
	return name, args
}

// Attach mounts path on the mount point id. Credentials go through a 0600
// file removed as soon as mount returns.
func (l *Linux) Attach(ctx context.Context, id, path string, cred *credential.Credential) error {
	opts := fmt.Sprintf("uid=%d,gid=%d", os.Getuid(), os.Getgid())
	if cred == nil {
		opts = "guest," + opts
	} else {
		file, err := writeCredentialsFile(cred)
		if err != nil {
			return fmt.Errorf("writing credentials file: %w", err)
		}
		defer os.Remove(file)
		opts = "credentials=" + file + "," + opts
	}

	name, args := l.privileged("mount", "-t", "cifs", path, id, "-o", opts)
	res, err := l.command(ctx, name, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if containsAny(res.Output(), "Permission denied", "error(13)") {
			return probe.ErrAuthRejected
		}
		return commandError("mount", res)
	}
	return nil
}

func (l *Linux) Detach(ctx context.Context, id string) error {
	name, args := l.privileged("umount", id)
	res, err := l.command(ctx, name, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return commandError("umount", res)
	}
	return nil
}

func (l *Linux) ListInUseIdentifiers(_ context.Context) ([]string, error) {
	data, err := l.readFile("/proc/mounts")
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	mounts, err := parse.Mounts(parse.ProcMounts, string(data))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(mounts))
	for i, m := range mounts {
		ids[i] = m.Identifier
		if len(ids[i]) > 1 {
			ids[i] = strings.TrimRight(ids[i], "/")
		}
	}
	return ids, nil
}
