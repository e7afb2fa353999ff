package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sznuper/smbdoctor/internal/report"
)

// MountFormat names the source of a mount table.
type MountFormat string

const (
	// ProcMounts is linux /proc/mounts.
	ProcMounts MountFormat = "proc-mounts"
	// NetUse is the Windows `net use` table.
	NetUse MountFormat = "net-use"
	// BSDMount is the output of `mount` on macOS.
	BSDMount MountFormat = "bsd-mount"
)

var driveLetter = regexp.MustCompile(`^[A-Za-z]:$`)

// Mounts parses a mount table. Every entry is returned, not only SMB ones,
// since any used identifier blocks allocation.
func Mounts(format MountFormat, raw string) ([]report.MountFact, error) {
	switch format {
	case ProcMounts:
		return procMounts(raw), nil
	case NetUse:
		return netUse(raw), nil
	case BSDMount:
		return bsdMounts(raw), nil
	default:
		return nil, fmt.Errorf("unknown mount table format %q", format)
	}
}

func procMounts(raw string) []report.MountFact {
	var out []report.MountFact
	for _, line := range strings.Split(raw, "\n") {
		f := strings.Fields(line)
		if len(f) < 3 {
			continue
		}
		out = append(out, report.MountFact{
			Remote:     unescapeOctal(f[0]),
			Identifier: unescapeOctal(f[1]),
			FSType:     f[2],
		})
	}
	return out
}

// unescapeOctal decodes the \040-style escapes the kernel uses for spaces,
// tabs and backslashes in mount paths.
func unescapeOctal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func netUse(raw string) []report.MountFact {
	var out []report.MountFact
	for _, line := range strings.Split(raw, "\n") {
		f := strings.Fields(line)
		for i, tok := range f {
			if !driveLetter.MatchString(tok) {
				continue
			}
			m := report.MountFact{Identifier: strings.ToUpper(tok), FSType: "smb"}
			if i+1 < len(f) && strings.HasPrefix(f[i+1], `\\`) {
				m.Remote = f[i+1]
			}
			out = append(out, m)
			break
		}
	}
	return out
}

func bsdMounts(raw string) []report.MountFact {
	var out []report.MountFact
	for _, line := range strings.Split(raw, "\n") {
		remote, rest, ok := strings.Cut(strings.TrimSpace(line), " on ")
		if !ok {
			continue
		}
		mp, opts, _ := strings.Cut(rest, " (")
		fstype, _, _ := strings.Cut(strings.TrimSuffix(opts, ")"), ",")
		out = append(out, report.MountFact{
			Remote:     remote,
			Identifier: mp,
			FSType:     strings.TrimSpace(fstype),
		})
	}
	return out
}
