package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/sznuper/smbdoctor/internal/report"
	"github.com/sznuper/smbdoctor/internal/runner"
)

type palette struct {
	pass, warn, crit, skip, muted, bold lipgloss.Style
}

var styles = newPalette(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

func newPalette(color bool) palette {
	if !color {
		plain := lipgloss.NewStyle()
		return palette{plain, plain, plain, plain, plain, plain}
	}
	return palette{
		pass:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff00")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaa00")).Bold(true),
		crit:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ff0000")).Bold(true),
		skip:  lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		bold:  lipgloss.NewStyle().Bold(true),
	}
}

func (p palette) overall(o report.Overall) string {
	switch o {
	case report.OverallCritical:
		return p.crit.Render("✗ CRITICAL")
	case report.OverallWarning:
		return p.warn.Render("! WARNING")
	default:
		return p.pass.Render("✓ PASSED")
	}
}

func (p palette) outcome(o report.Outcome) string {
	switch {
	case o.Status == report.Passed:
		return p.pass.Render("✓")
	case o.Status == report.Skipped:
		return p.skip.Render("-")
	case o.Severity == report.Critical:
		return p.crit.Render("✗")
	case o.Severity == report.Warning:
		return p.warn.Render("!")
	default:
		return p.muted.Render("i")
	}
}

func printResult(w io.Writer, r runner.Result) {
	if r.Report == nil {
		fmt.Fprintf(w, "%s %s\n", styles.crit.Render("✗"), styles.bold.Render(r.TargetName))
		fmt.Fprintf(w, "  Error (%s): %s\n", r.ErrStage, r.Err)
		return
	}

	rep := r.Report
	where := rep.Target.Server
	if rep.Target.Share != "" {
		where += "/" + rep.Target.Share
	}
	fmt.Fprintf(w, "%s %s (%s)  %s\n", styles.overall(rep.Status), styles.bold.Render(rep.Target.Name), where,
		styles.muted.Render(fmt.Sprintf("run %s, %s on %s", shortID(rep.RunID), rep.Duration.Round(time.Millisecond), rep.Platform)))

	for _, o := range rep.Outcomes {
		status := string(o.Status)
		if o.Status == report.Failed {
			status = o.Severity.String()
		}
		fmt.Fprintf(w, "  %s %-13s %-9s %s\n", styles.outcome(o), o.Stage, status, o.Detail)
		for _, n := range o.Notes {
			fmt.Fprintf(w, "      %s %s\n", styles.muted.Render("note:"), n.Detail)
		}
	}

	if r.Err != nil {
		fmt.Fprintf(w, "  Error (%s): %s\n", r.ErrStage, r.Err)
	}

	// Show rendered message (pick first if all same, else show per-service).
	if len(r.Rendered) > 0 {
		messages := uniqueMessages(r.Rendered)
		if len(messages) == 1 {
			fmt.Fprintf(w, "  Rendered: %q\n", messages[0])
		} else {
			for _, svc := range sortedKeys(r.Rendered) {
				fmt.Fprintf(w, "  Rendered (%s): %q\n", svc, r.Rendered[svc])
			}
		}
	}

	if len(r.Notified) > 0 {
		label := "Notified"
		if r.DryRun {
			label = "Would notify"
		}
		fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(r.Notified, ", "))
	}
}

// printJSON writes the reports of results; results without a report are
// written as an error object.
func printJSON(w io.Writer, results []runner.Result) error {
	type entry struct {
		*report.Report
		Error    string `json:"error,omitempty"`
		ErrStage string `json:"error_stage,omitempty"`
		Name     string `json:"name,omitempty"`
	}
	out := make([]entry, 0, len(results))
	for _, r := range results {
		e := entry{Report: r.Report}
		if r.Err != nil {
			e.Error, e.ErrStage = r.Err.Error(), r.ErrStage
		}
		if r.Report == nil {
			e.Name = r.TargetName
		}
		out = append(out, e)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(out) == 1 {
		return enc.Encode(out[0])
	}
	return enc.Encode(out)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func uniqueMessages(rendered map[string]string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, svc := range sortedKeys(rendered) {
		msg := rendered[svc]
		if !seen[msg] {
			seen[msg] = true
			unique = append(unique, msg)
		}
	}
	return unique
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
