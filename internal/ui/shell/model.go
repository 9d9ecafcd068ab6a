// Package shell is an interactive prompt that forwards command lines to the
// running daemon and prints its replies.
package shell

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"kimaid/internal/modules/timesheet/dto"
	"kimaid/internal/ui/theme"
)

const (
	maxTranscript = 200
	sendTimeout   = 2 * time.Minute
)

var hints = []string{
	"login <username> <password>",
	"logout",
	"addEntry",
	"configure <start> <duration> <trigger>",
	"status",
	"help",
	"quit",
}

type commandPort interface {
	Send(ctx context.Context, command string) (dto.ReplyOutput, error)
}

type replyMsg struct {
	reply string
	err   error
}

type line struct {
	text  string
	style int
}

const (
	styleCommand = iota
	styleReply
	styleError
)

type Model struct {
	port  commandPort
	input textinput.Model

	transcript []line
	recall     []string
	recallAt   int
	pending    bool
	width      int
	height     int
}

func NewModel(port commandPort) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command, help for the list"
	ti.CharLimit = 256
	ti.Focus()
	return Model{port: port, input: ti}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-12, 10)
		return m, nil
	case replyMsg:
		m.pending = false
		if msg.err != nil {
			m.appendLine(line{text: msg.err.Error(), style: styleError})
			return m, nil
		}
		for _, text := range strings.Split(msg.reply, "\n") {
			m.appendLine(line{text: text, style: styleReply})
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "up":
			m.recallPrevious()
			return m, nil
		case "down":
			m.recallNext()
			return m, nil
		case "enter":
			return m.submit()
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	command := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if command == "" || m.pending {
		return m, nil
	}
	if command == "quit" || command == "exit" {
		return m, tea.Quit
	}
	m.recall = append(m.recall, command)
	m.recallAt = len(m.recall)
	m.appendLine(line{text: "> " + maskSecret(command), style: styleCommand})
	m.pending = true
	port := m.port
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		out, err := port.Send(ctx, command)
		return replyMsg{reply: out.Reply, err: err}
	}
}

func (m *Model) recallPrevious() {
	if m.recallAt == 0 {
		return
	}
	m.recallAt--
	m.input.SetValue(m.recall[m.recallAt])
	m.input.CursorEnd()
}

func (m *Model) recallNext() {
	if m.recallAt >= len(m.recall)-1 {
		m.recallAt = len(m.recall)
		m.input.SetValue("")
		return
	}
	m.recallAt++
	m.input.SetValue(m.recall[m.recallAt])
	m.input.CursorEnd()
}

func (m *Model) appendLine(l line) {
	m.transcript = append(m.transcript, l)
	if over := len(m.transcript) - maxTranscript; over > 0 {
		m.transcript = m.transcript[over:]
	}
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("kimaid shell") + "\n\n")

	lines := m.transcript
	if m.height > 0 {
		// title, blank line, prompt, pending marker and hint
		if room := m.height - 6; room > 0 && len(lines) > room {
			lines = lines[len(lines)-room:]
		}
	}
	for _, l := range lines {
		switch l.style {
		case styleCommand:
			sb.WriteString(theme.Muted.Render(l.text))
		case styleError:
			sb.WriteString(theme.Error.Render(l.text))
		default:
			sb.WriteString(theme.Reply.Render(l.text))
		}
		sb.WriteString("\n")
	}
	if m.pending {
		sb.WriteString(theme.Hot.Render("waiting for daemon...") + "\n")
	}
	sb.WriteString(theme.Prompt.Render("kimaid>") + " " + m.input.View() + "\n")
	sb.WriteString(theme.Muted.Render(matchingHint(m.input.Value())))
	return sb.String()
}

func matchingHint(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "esc to quit, up/down for previous commands"
	}
	var matching []string
	for _, h := range hints {
		if strings.HasPrefix(h, prefix) {
			matching = append(matching, h)
		}
	}
	return strings.Join(matching, "  |  ")
}

// maskSecret hides the password of a login line in the transcript.
func maskSecret(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 3 && fields[0] == "login" {
		return fields[0] + " " + fields[1] + " ***"
	}
	return command
}
