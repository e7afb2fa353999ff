package platform

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/parse"
	"github.com/sznuper/smbdoctor/internal/probe"
)

// Darwin drives smbutil and mount_smbfs.
type Darwin struct {
	base
}

const smbPreferencesJob = "com.apple.smb.preferences"

var smbutilAuthMarkers = []string{"Authentication error", "Permission denied", "syserr = Authentication"}

func (d *Darwin) Profile() probe.Profile {
	return probe.Profile{
		OS:        "darwin",
		Primary:   []string{"smbutil"},
		Secondary: []string{smbPreferencesJob},
		Listing:   parse.SmbutilView,
		Mounts:    parse.BSDMount,
	}
}

func (d *Darwin) SharePath(server, share string) string {
	return "//" + server + "/" + share
}

func (d *Darwin) Identifiers() allocator.Space {
	return allocator.MountPointSpace{Base: d.mountBase}
}

func (d *Darwin) QueryServiceState(ctx context.Context, name string) (probe.ServiceState, error) {
	if name != smbPreferencesJob {
		return d.toolState(name), nil
	}
	res, err := d.command(ctx, "launchctl", "list", name)
	if err != nil {
		return probe.ServiceNotFound, err
	}
	if res.ExitCode != 0 {
		return probe.ServiceStopped, nil
	}
	return probe.ServiceRunning, nil
}

func (d *Darwin) ReachabilityProbe(ctx context.Context, address string, count int, timeout time.Duration) (bool, error) {
	// -t is the overall deadline on BSD ping.
	total := time.Duration(count) * timeout
	args := []string{"-c", strconv.Itoa(count), "-t", seconds(total), address}
	return d.ping(ctx, args, func(r *ExecResult) bool { return r.ExitCode == 0 }, timeout, count)
}

// smbURL builds //[user[:pass]@]server[/share] with the userinfo escaped.
func smbURL(server, share string, cred *credential.Credential) string {
	var b strings.Builder
	b.WriteString("//")
	if cred != nil {
		user := cred.Username
		if cred.Domain != "" {
			user = cred.Domain + ";" + user
		}
		b.WriteString(url.UserPassword(user, cred.Password).String())
		b.WriteString("@")
	}
	b.WriteString(server)
	if share != "" {
		b.WriteString("/" + url.PathEscape(share))
	}
	return b.String()
}

func (d *Darwin) ListShares(ctx context.Context, address string, cred *credential.Credential) (string, error) {
	args := []string{"view"}
	if cred == nil {
		args = append(args, "-g")
	}
	res, err := d.command(ctx, "smbutil", append(args, smbURL(address, "", cred))...)
	if err != nil {
		return "", err
	}
	if containsAny(res.Output(), smbutilAuthMarkers...) {
		return "", probe.ErrAuthRejected
	}
	if res.ExitCode != 0 {
		return "", commandError("smbutil", res)
	}
	return res.Stdout, nil
}

// CheckPathAccessible asks the server for its listing with the caller's
// credentials and looks for the share; smbutil has no direct path check.
func (d *Darwin) CheckPathAccessible(ctx context.Context, path string, cred *credential.Credential) (bool, error) {
	server, share, ok := strings.Cut(strings.TrimPrefix(path, "//"), "/")
	if !ok {
		return false, nil
	}
	raw, err := d.ListShares(ctx, server, cred)
	if err != nil {
		return false, err
	}
	shares, err := parse.Shares(parse.SmbutilView, raw)
	if err != nil {
		return false, err
	}
	for _, s := range shares {
		if strings.EqualFold(s.Name, share) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Darwin) Attach(ctx context.Context, id, path string, cred *credential.Credential) error {
	server, share, _ := strings.Cut(strings.TrimPrefix(path, "//"), "/")
	res, err := d.command(ctx, "mount", "-t", "smbfs", smbURL(server, share, cred), id)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if containsAny(res.Output(), smbutilAuthMarkers...) {
			return probe.ErrAuthRejected
		}
		return commandError("mount", res)
	}
	return nil
}

func (d *Darwin) Detach(ctx context.Context, id string) error {
	res, err := d.command(ctx, "umount", id)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return commandError("umount", res)
	}
	return nil
}

func (d *Darwin) ListInUseIdentifiers(ctx context.Context) ([]string, error) {
	res, err := d.command(ctx, "mount")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, commandError("mount", res)
	}
	mounts, err := parse.Mounts(parse.BSDMount, res.Stdout)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(mounts))
	for i, m := range mounts {
		ids[i] = m.Identifier
	}
	return ids, nil
}
