package watch

import (
	"time"

	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/report"
)

// policy decides which scheduled results are worth a notification.
type policy struct {
	warning  time.Duration
	critical time.Duration
	recovery bool
}

// policyFor parses a validated cooldown. A simple duration applies to both
// statuses; per-status values override it.
func policyFor(cd config.Cooldown) policy {
	simple, _ := time.ParseDuration(cd.Simple)
	p := policy{warning: simple, critical: simple, recovery: cd.Recovery}
	if d, err := time.ParseDuration(cd.Warning); err == nil {
		p.warning = d
	}
	if d, err := time.ParseDuration(cd.Critical); err == nil {
		p.critical = d
	}
	return p
}

func (p policy) cooldown(status report.Overall) time.Duration {
	if status == report.OverallCritical {
		return p.critical
	}
	return p.warning
}

// history is what a target remembers between scheduled runs.
type history struct {
	notified   report.Overall // status of the last sent notification, "" if none outstanding
	notifiedAt time.Time
}

// due reports whether status should be notified now. It changes nothing;
// call record once the notification went out.
//
// A problem status notifies when nothing is outstanding, when it differs
// from the last notified one, or when its cooldown has elapsed. A passed
// status notifies only as a recovery from an outstanding problem.
func (h *history) due(p policy, status report.Overall, now time.Time) bool {
	if status == report.OverallPassed {
		return h.notified != "" && p.recovery
	}
	return h.notified != status || now.Sub(h.notifiedAt) >= p.cooldown(status)
}

// record notes that status was notified at now. A passed status clears
// whatever was outstanding.
func (h *history) record(status report.Overall, now time.Time) {
	if status == report.OverallPassed {
		h.notified = ""
		h.notifiedAt = time.Time{}
		return
	}
	h.notified = status
	h.notifiedAt = now
}
