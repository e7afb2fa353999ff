// Package prompt collects an ad-hoc target from the terminal before a run
// starts, so the diagnostic engine never has to ask for anything mid-run.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sznuper/smbdoctor/internal/credential"
)

// ErrAborted is returned when the user leaves the form with esc or ctrl+c.
var ErrAborted = errors.New("prompt aborted")

// Answers is what the form collects.
type Answers struct {
	Server   string
	Share    string
	Username string
	Password string
	Domain   string
}

// Credential returns the entered account, or nil for guest access.
func (a Answers) Credential() *credential.Credential {
	if a.Username == "" {
		return nil
	}
	return &credential.Credential{Username: a.Username, Password: a.Password, Domain: a.Domain}
}

const (
	fieldServer = iota
	fieldShare
	fieldUsername
	fieldPassword
	fieldDomain
	fieldCount
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ffff"))
	labelStyle = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("#0099ff"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff0000")).Bold(true)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

var labels = [fieldCount]string{"Server", "Share", "Username", "Password", "Domain"}

type model struct {
	inputs  []textinput.Model
	focus   int
	problem string
	done    bool
	aborted bool
}

func newModel(defaults Answers) model {
	values := [fieldCount]string{defaults.Server, defaults.Share, defaults.Username, defaults.Password, defaults.Domain}
	placeholders := [fieldCount]string{"nas.local or 10.0.0.5", "optional", "blank for guest", "", "optional"}

	m := model{inputs: make([]textinput.Model, fieldCount)}
	for i := range m.inputs {
		in := textinput.New()
		in.Prompt = ""
		in.Placeholder = placeholders[i]
		in.SetValue(values[i])
		in.CharLimit = 256
		if i == fieldPassword {
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		}
		m.inputs[i] = in
	}
	m.inputs[fieldServer].Focus()
	return m
}

func (m model) Init() tea.Cmd { return textinput.Blink }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyTab, tea.KeyDown:
			return m.move(1), nil
		case tea.KeyShiftTab, tea.KeyUp:
			return m.move(-1), nil
		case tea.KeyEnter:
			if m.focus < fieldCount-1 {
				return m.move(1), nil
			}
			if p := m.answers().problem(); p != "" {
				m.problem = p
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m model) move(delta int) model {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + fieldCount) % fieldCount
	m.inputs[m.focus].Focus()
	return m
}

func (m model) View() string {
	if m.done || m.aborted {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Diagnose a file share") + "\n\n")
	for i, in := range m.inputs {
		cursor := "  "
		if i == m.focus {
			cursor = "> "
		}
		fmt.Fprintf(&b, "%s%s %s\n", cursor, labelStyle.Render(labels[i]), in.View())
	}
	if m.problem != "" {
		b.WriteString("\n" + errStyle.Render(m.problem) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("tab/shift+tab move • enter next/submit • esc cancel") + "\n")
	return b.String()
}

func (m model) answers() Answers {
	v := func(i int) string { return strings.TrimSpace(m.inputs[i].Value()) }
	return Answers{
		Server:   v(fieldServer),
		Share:    strings.Trim(v(fieldShare), `\/`),
		Username: v(fieldUsername),
		Password: m.inputs[fieldPassword].Value(),
		Domain:   v(fieldDomain),
	}
}

// problem returns what blocks submission, or "".
func (a Answers) problem() string {
	switch {
	case a.Server == "":
		return "a server is required"
	case strings.ContainsAny(a.Share, `\/`):
		return "share must be a single name, not a path"
	case a.Password != "" && a.Username == "":
		return "a password needs a username"
	}
	return ""
}

// Ask runs the form on in/out and returns the answers. Fields of defaults
// are pre-filled.
func Ask(ctx context.Context, in io.Reader, out io.Writer, defaults Answers) (Answers, error) {
	p := tea.NewProgram(newModel(defaults), tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return Answers{}, fmt.Errorf("running prompt: %w", err)
	}
	m := final.(model)
	if m.aborted || !m.done {
		return Answers{}, ErrAborted
	}
	return m.answers(), nil
}
