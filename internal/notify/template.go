package notify

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/sznuper/smbdoctor/internal/report"
)

// DefaultTemplate is used when a target sets no template of its own.
const DefaultTemplate = `{{report.status_emoji}} {{report.status | upper}} {{target.name}} ({{target.server}}) from {{globals.hostname}}
{{- range outcomes}}{{if eq (print .Status) "failed"}}
- {{.Stage}} [{{.Severity}}]: {{.Detail}}{{end}}{{range .Notes}}
- {{.Detail}}{{end}}{{end}}`

// TemplateData holds all data available to notification templates.
type TemplateData struct {
	Globals  map[string]any
	Target   map[string]string
	Report   map[string]string
	Outcomes []report.Outcome
}

// BuildTemplateData flattens a finished report for templates.
func BuildTemplateData(globals map[string]any, rep *report.Report) TemplateData {
	passed, failed, skipped := rep.Counts()
	status := string(rep.Status)

	var problems []string
	for _, o := range rep.Outcomes {
		if o.Status == report.Failed {
			problems = append(problems, o.Stage+": "+o.Detail)
		}
	}

	return TemplateData{
		Globals: globals,
		Target: map[string]string{
			"name":    rep.Target.Name,
			"server":  rep.Target.Server,
			"share":   rep.Target.Share,
			"timeout": rep.Target.Timeout,
		},
		Report: map[string]string{
			"status":       status,
			"status_emoji": statusEmoji(status),
			"run_id":       rep.RunID,
			"platform":     rep.Platform,
			"duration":     rep.Duration.String(),
			"passed":       strconv.Itoa(passed),
			"failed":       strconv.Itoa(failed),
			"skipped":      strconv.Itoa(skipped),
			"problems":     strings.Join(problems, "; "),
		},
		Outcomes: rep.Outcomes,
	}
}

func statusEmoji(status string) string {
	switch status {
	case "critical":
		return "\U0001f534" // 🔴
	case "warning":
		return "\U0001f7e1" // 🟡
	case "passed":
		return "\U0001f7e2" // 🟢
	default:
		return "❓" // ❓
	}
}

// Render executes a Go text/template string with Sprig functions and the
// custom accessor functions (report, target, globals, outcomes).
func Render(tmplStr string, data TemplateData) (string, error) {
	funcMap := sprig.TxtFuncMap()

	// Register accessor functions so {{report.status}} works:
	// "report" returns the report map, then ".status" accesses a key.
	funcMap["report"] = func() map[string]string { return data.Report }
	funcMap["target"] = func() map[string]string { return data.Target }
	funcMap["globals"] = func() map[string]any { return data.Globals }
	funcMap["outcomes"] = func() []report.Outcome { return data.Outcomes }

	t, err := template.New("notify").Funcs(funcMap).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}
