package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sznuper/smbdoctor/internal/report"
)

// ListingFormat names the tool whose share listing is being parsed.
type ListingFormat string

const (
	// SmbclientGrep is `smbclient -L <srv> -g`: TYPE|NAME|COMMENT per line.
	SmbclientGrep ListingFormat = "smbclient"
	// NetView is the Windows `net view \\srv` table.
	NetView ListingFormat = "net-view"
	// SmbutilView is the macOS `smbutil view //srv` table.
	SmbutilView ListingFormat = "smbutil"
)

var columnGap = regexp.MustCompile(`\s{2,}`)

// Shares parses a raw share listing in the given format.
func Shares(format ListingFormat, raw string) ([]report.ShareFact, error) {
	switch format {
	case SmbclientGrep:
		return smbclientShares(raw), nil
	case NetView:
		return tableShares(raw, "the command completed"), nil
	case SmbutilView:
		return tableShares(raw, "shares listed"), nil
	default:
		return nil, fmt.Errorf("unknown listing format %q", format)
	}
}

// DiskShares keeps only ordinary disk shares, dropping printers, IPC and
// administrative $ shares.
func DiskShares(shares []report.ShareFact) []report.ShareFact {
	var out []report.ShareFact
	for _, s := range shares {
		if s.Type == report.ShareDisk {
			out = append(out, s)
		}
	}
	return out
}

func smbclientShares(raw string) []report.ShareFact {
	var out []report.ShareFact
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) < 2 {
			continue
		}
		kind := strings.ToLower(parts[0])
		if kind == "server" || kind == "workgroup" {
			continue
		}
		s := report.ShareFact{Name: parts[1], Type: classify(parts[0], parts[1])}
		if len(parts) == 3 {
			s.Comment = parts[2]
		}
		out = append(out, s)
	}
	return out
}

// tableShares reads a dashed-header table: rows after the first line of
// dashes, up to the footer.
func tableShares(raw, footer string) []report.ShareFact {
	var out []report.ShareFact
	inBody := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r ")
		trimmed := strings.TrimSpace(line)
		if !inBody {
			if strings.HasPrefix(trimmed, "---") {
				inBody = true
			}
			continue
		}
		if trimmed == "" {
			continue
		}
		if strings.Contains(strings.ToLower(trimmed), footer) {
			break
		}
		cols := columnGap.Split(trimmed, 3)
		if len(cols) < 2 {
			continue
		}
		s := report.ShareFact{Name: cols[0], Type: classify(cols[1], cols[0])}
		if len(cols) == 3 {
			s.Comment = strings.TrimSpace(cols[2])
		}
		out = append(out, s)
	}
	return out
}

func classify(kind, name string) report.ShareType {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "disk":
		if strings.HasSuffix(name, "$") {
			return report.ShareSpecial
		}
		return report.ShareDisk
	case "printer", "print", "printq":
		return report.SharePrinter
	case "ipc", "pipe":
		return report.ShareIPC
	default:
		return report.ShareSpecial
	}
}
