package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/dynffi/shell"
	"github.com/wippyai/dynffi/value"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive shell",
	Long: `Start an interactive shell. On a terminal this is a full-screen
session with history and command completion; otherwise commands are read
line by line from stdin.`,
	Args: cobra.NoArgs,
	RunE: runREPL,
}

func init() {
	replCmd.Flags().Bool("plain", false, "read lines from stdin even on a terminal")
}

var errExit = errors.New("exit")

func cmdExit(_ context.Context, _ *shell.Shell, _ []*value.Value) (*value.Value, error) {
	return nil, errExit
}

func runREPL(cmd *cobra.Command, _ []string) error {
	plain, _ := cmd.Flags().GetBool("plain")
	if plain || !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			s.shell.Register("exit", cmdExit)
			return runLines(ctx, s.shell, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		})
	}

	out := &transcript{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	return withSession(cmd, func(ctx context.Context, s *session) error {
		s.shell.Register("exit", cmdExit)
		m := newReplModel(ctx, s, out)
		_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	})
}

// runLines evaluates commands read from in until EOF or exit. Lines are
// joined until they form a complete command. Errors are printed and do
// not stop the loop.
func runLines(ctx context.Context, sh *shell.Shell, in io.Reader, out, errOut io.Writer) error {
	sc := bufio.NewScanner(in)
	var pending strings.Builder
	for sc.Scan() {
		pending.WriteString(sc.Text())
		pending.WriteByte('\n')
		script := pending.String()
		if !complete(script) {
			continue
		}
		pending.Reset()

		v, err := sh.Run(ctx, script)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			printError(errOut, err)
			continue
		}
		printResult(out, v)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(pending.String()) != "" {
		return errors.New("incomplete command at end of input")
	}
	return nil
}

// complete reports whether script has balanced braces, brackets and
// quotes and does not end in a backslash continuation.
func complete(script string) bool {
	braces, brackets := 0, 0
	quoted := false
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\\':
			if i+1 == len(script) || (i+2 == len(script) && script[i+1] == '\n') {
				return false
			}
			i++
		case braces > 0:
			switch c {
			case '{':
				braces++
			case '}':
				braces--
			}
		case c == '{' && !quoted:
			braces++
		case c == '"':
			quoted = !quoted
		case c == '[':
			brackets++
		case c == ']' && brackets > 0:
			brackets--
		}
	}
	return braces == 0 && brackets == 0 && !quoted
}

// transcript collects shell and guest output between evaluations.
type transcript struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Write(p)
}

func (t *transcript) drain() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.buf.String()
	t.buf.Reset()
	return s
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	echoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	promptFirst = "% "
	promptMore  = "> "
)

type replModel struct {
	ctx      context.Context
	sh       *shell.Shell
	out      *transcript
	title    string
	input    textinput.Model
	view     viewport.Model
	lines    []string
	history  []string
	histIdx  int
	pending  strings.Builder
	ready    bool
	busy     bool
	quitting bool
}

type evalMsg struct {
	result string
	output string
	err    error
}

func newReplModel(ctx context.Context, s *session, out *transcript) *replModel {
	ti := textinput.New()
	ti.Prompt = promptFirst
	ti.Placeholder = "ffidl::info engine"
	ti.ShowSuggestions = true
	ti.SetSuggestions(s.shell.Commands())
	ti.Focus()

	p := s.engine.Platform()
	return &replModel{
		ctx:   ctx,
		sh:    s.shell,
		out:   out,
		title: fmt.Sprintf("%s on %s", s.engine.Name(), p.Host),
		input: ti,
	}
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - 4
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.input.Width = msg.Width - len(promptFirst) - 1
		m.refresh()
		return m, nil

	case evalMsg:
		m.busy = false
		if msg.output != "" {
			m.lines = append(m.lines, strings.TrimRight(msg.output, "\n"))
		}
		switch {
		case errors.Is(msg.err, errExit):
			return m, tea.Quit
		case msg.err != nil:
			m.lines = append(m.lines, errorStyle.Render("error: "+shell.Message(msg.err)))
		case msg.result != "":
			m.lines = append(m.lines, resultStyle.Render(msg.result))
		}
		m.input.SetSuggestions(m.sh.Commands())
		m.refresh()
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			if m.busy {
				m.quitting = true
				return m, nil
			}
			return m, tea.Quit

		case "enter":
			if m.busy {
				return m, nil
			}
			return m, m.submit()

		case "up":
			m.recall(-1)
			return m, nil

		case "down":
			m.recall(1)
			return m, nil

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit echoes the input line and evaluates the pending command once it
// is complete.
func (m *replModel) submit() tea.Cmd {
	line := m.input.Value()
	m.input.Reset()
	if strings.TrimSpace(line) != "" {
		m.history = append(m.history, line)
	}
	m.histIdx = len(m.history)
	m.lines = append(m.lines, echoStyle.Render(m.input.Prompt+line))

	m.pending.WriteString(line)
	m.pending.WriteByte('\n')
	script := m.pending.String()
	if !complete(script) {
		m.input.Prompt = promptMore
		m.refresh()
		return nil
	}
	m.pending.Reset()
	m.input.Prompt = promptFirst
	m.refresh()
	if strings.TrimSpace(script) == "" {
		return nil
	}

	m.busy = true
	ctx, sh, out := m.ctx, m.sh, m.out
	return func() tea.Msg {
		v, err := sh.Run(ctx, script)
		msg := evalMsg{err: err, output: out.drain()}
		if err == nil && v != nil {
			msg.result = v.String()
		}
		return msg
	}
}

func (m *replModel) recall(step int) {
	i := m.histIdx + step
	if i < 0 || i > len(m.history) {
		return
	}
	m.histIdx = i
	if i == len(m.history) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[i])
	m.input.CursorEnd()
}

func (m *replModel) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(strings.Join(m.lines, "\n"))
	m.view.GotoBottom()
}

func (m *replModel) View() string {
	if !m.ready {
		return "Starting..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("ffidl"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	help := "enter run • tab complete • ↑/↓ history • pgup/pgdown scroll • ctrl+d quit"
	if m.busy {
		help = "running..."
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}
