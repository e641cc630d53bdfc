package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"pfp/internal/protocol/credential"
)

const (
	fieldUsername = iota
	fieldPassword
	fieldCount
)

// SentMsg reports that the latest value reached the relay.
type SentMsg struct{}

// ErrorMsg reports a failed delivery attempt; the loop retries on its own.
type ErrorMsg struct{ Err error }

// Model is the bubbletea model of the credential form.
type Model struct {
	keys   KeyMap
	inputs [fieldCount]textinput.Model
	focus  int
	submit func(string)

	host      string
	last      string
	sent      int
	status    string
	statusErr bool
	done      bool
}

// New returns a form focused on the username field. host is shown as a
// hint and may be empty.
func New(host string, submit func(string)) Model {
	username := textinput.New()
	username.Placeholder = "username (optional)"
	username.Prompt = ""
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.Prompt = ""
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	return Model{
		keys:   DefaultKeyMap,
		inputs: [fieldCount]textinput.Model{username, password},
		submit: submit,
		host:   host,
		status: "waiting for input",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SentMsg:
		m.sent++
		m.status, m.statusErr = "delivered to relay", false
		return m, nil

	case ErrorMsg:
		m.status, m.statusErr = fmt.Sprintf("retrying: %v", msg.Err), true
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.done = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Next):
			return m, m.moveFocus(1)
		case key.Matches(msg, m.keys.Prev):
			return m, m.moveFocus(-1)
		case key.Matches(msg, m.keys.Submit):
			if m.focus < fieldCount-1 {
				return m, m.moveFocus(1)
			}
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	m.publish()
	return m, cmd
}

func (m *Model) moveFocus(delta int) tea.Cmd {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + fieldCount) % fieldCount
	return m.inputs[m.focus].Focus()
}

// publish hands the combined credential to submit when it changed.
func (m *Model) publish() {
	value := credential.Encode(m.Credential())
	if value == m.last {
		return
	}
	m.last = value
	if m.submit != nil {
		m.submit(value)
	}
}

// Credential returns the current field values.
func (m Model) Credential() credential.Credential {
	return credential.Credential{
		Username: m.inputs[fieldUsername].Value(),
		Password: m.inputs[fieldPassword].Value(),
	}
}

// Done reports whether the user finished or quit the form.
func (m Model) Done() bool { return m.done }

func (m Model) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	title := "Password From Phone"
	if m.host != "" {
		title += " → " + m.host
	}
	b.WriteString(titleStyle.Render(title) + "\n")
	b.WriteString(helpStyle.Render(strings.Repeat("─", ansi.StringWidth(title))) + "\n\n")
	b.WriteString(labelStyle.Render("username") + m.inputs[fieldUsername].View() + "\n")
	b.WriteString(labelStyle.Render("password") + m.inputs[fieldPassword].View() + "\n\n")

	style := okStyle
	if m.statusErr {
		style = errStyle
	}
	b.WriteString(style.Render(m.status) + "\n")
	b.WriteString(helpStyle.Render("tab: next field • enter: done • esc: quit") + "\n")
	return b.String()
}
