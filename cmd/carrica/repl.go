package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/carrica/guest"
	"github.com/wippyai/carrica/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	codeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	promptReady = "> "
	promptMore  = ". "
)

// session is one VM driven from the shell. Output written by the guest is
// collected between lines.
type session struct {
	rt  *runtime.Runtime
	vm  *runtime.Instance
	out strings.Builder
	err strings.Builder
}

func newSession(rt *runtime.Runtime) (*session, error) {
	s := &session{rt: rt}
	vm, err := rt.NewVM("repl")
	if err != nil {
		return nil, err
	}
	s.vm = vm
	if err := s.hook(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) hook() error {
	return s.vm.SetHandlers(map[string]any{
		"write": func(text string) { s.out.WriteString(text) },
		"error": func(kind guest.ErrorKind, module string, line int, msg string) {
			switch kind {
			case guest.ErrorCompile:
				fmt.Fprintf(&s.err, "[%s line %d] %s\n", module, line, msg)
			case guest.ErrorRuntime:
				fmt.Fprintln(&s.err, msg)
			case guest.ErrorStackTrace:
				fmt.Fprintf(&s.err, "  [%s line %d] in %s\n", module, line, msg)
			}
		},
	})
}

func (s *session) reset() error {
	if err := s.vm.Release(); err != nil {
		return err
	}
	return s.vm.Renew("repl")
}

type evalMsg struct {
	code   string
	output string
	errors string
	err    error
}

// command runs one complete chunk of input.
func (s *session) command(code string) tea.Cmd {
	return func() tea.Msg {
		s.out.Reset()
		s.err.Reset()
		msg := evalMsg{code: code}
		switch strings.TrimSpace(code) {
		case ":modules":
			names, err := s.vm.Modules()
			msg.output, msg.err = strings.Join(names, "\n")+"\n", err
			return msg
		case ":reset":
			msg.err = s.reset()
			msg.output = "vm reset\n"
			return msg
		}
		msg.err = s.vm.Interpret(code)
		msg.output = s.out.String()
		msg.errors = s.err.String()
		return msg
	}
}

type replModel struct {
	sess    *session
	input   textinput.Model
	view    viewport.Model
	history strings.Builder
	pending []string
	depth   int
	running bool
	ready   bool
}

func newReplModel(sess *session) *replModel {
	ti := textinput.New()
	ti.Prompt = promptReady
	ti.Placeholder = `System.print("hello")`
	ti.Focus()
	return &replModel{sess: sess, input: ti}
}

func (m *replModel) Init() tea.Cmd { return textinput.Blink }

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(msg.Height-4, 1)
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.input.Width = msg.Width - len(promptReady) - 1
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "enter":
			if m.running {
				return m, nil
			}
			line := m.input.Value()
			m.input.SetValue("")
			if strings.TrimSpace(line) == ":q" {
				return m, tea.Quit
			}
			m.pending = append(m.pending, line)
			m.depth += strings.Count(line, "{") - strings.Count(line, "}")
			if m.depth > 0 {
				m.input.Prompt = promptMore
				return m, nil
			}
			code := strings.Join(m.pending, "\n")
			m.pending = nil
			m.depth = 0
			m.input.Prompt = promptReady
			if strings.TrimSpace(code) == "" {
				return m, nil
			}
			m.running = true
			return m, m.sess.command(code)
		case "esc":
			m.pending = nil
			m.depth = 0
			m.input.Prompt = promptReady
			m.input.SetValue("")
			return m, nil
		}

	case evalMsg:
		m.running = false
		m.record(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.view, cmd = m.view.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *replModel) record(msg evalMsg) {
	for i, line := range strings.Split(msg.code, "\n") {
		prompt := promptReady
		if i > 0 {
			prompt = promptMore
		}
		m.history.WriteString(codeStyle.Render(prompt+line) + "\n")
	}
	if msg.output != "" {
		m.history.WriteString(outputStyle.Render(strings.TrimRight(msg.output, "\n")) + "\n")
	}
	if msg.errors != "" {
		m.history.WriteString(errorStyle.Render(strings.TrimRight(msg.errors, "\n")) + "\n")
	} else if msg.err != nil {
		m.history.WriteString(errorStyle.Render(msg.err.Error()) + "\n")
	}
	m.refresh()
}

func (m *replModel) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(m.history.String())
	m.view.GotoBottom()
}

func (m *replModel) View() string {
	if !m.ready {
		return "Starting..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("carrica " + m.sess.rt.Version()))
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • esc discard • :modules • :reset • :q quit"))
	return b.String()
}

func runInteractive(rt *runtime.Runtime) error {
	sess, err := newSession(rt)
	if err != nil {
		return err
	}
	defer sess.vm.Release()

	p := tea.NewProgram(newReplModel(sess), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
