// internal/tui/tui.go
// Package tui implements the interactive multi-model chat screen. Every submitted message
// starts an incremental round; each model's reply lands in the history as soon as it settles.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/chorus/internal/chat"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/providers"
	"github.com/mwiater/chorus/internal/tracker"
)

// resultMsg carries one settled model into the Bubble Tea loop.
type resultMsg struct {
	recordID string
	result   providers.Result
}

// roundDoneMsg is sent after every slot of a round has been delivered.
type roundDoneMsg struct {
	elapsed time.Duration
}

// roundErrMsg reports a round that could not start.
type roundErrMsg struct {
	records []tracker.Record
	err     error
}

// tickMsg refreshes elapsed timers while a round is running.
type tickMsg time.Time

var (
	userStyle      = lipgloss.NewStyle().Bold(true)
	modelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statsStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	headerStyle    = lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230")).Padding(0, 1)
	helpStyle      = lipgloss.NewStyle().Faint(true)
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// chatModel is the Bubble Tea model for the chat screen.
type chatModel struct {
	ctx     context.Context
	session *chat.Session
	records *tracker.Session

	textArea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	// running is true while a round has unsettled records.
	running    bool
	roundStart time.Time
	lastRound  time.Duration
	err        error

	width, height int
	// send delivers messages from dispatcher goroutines into the program.
	send func(tea.Msg)
}

func initialModel(ctx context.Context, session *chat.Session) *chatModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()
	ta.Prompt = "Ask Anything: "
	ta.ShowLineNumbers = false
	ta.CharLimit = -1
	ta.SetHeight(1)
	ta.KeyMap.InsertNewline.SetEnabled(false)

	return &chatModel{
		ctx:      ctx,
		session:  session,
		records:  tracker.NewSession(),
		textArea: ta,
		viewport: viewport.New(100, 5),
		spinner:  s,
		send:     func(tea.Msg) {},
	}
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles key presses, window changes, and settled results.
func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+l":
			if !m.running {
				m.records.Clear()
				m.refresh()
			}
			return m, nil
		case "enter":
			input := strings.TrimSpace(m.textArea.Value())
			if input == "" || m.running {
				return m, nil
			}
			m.textArea.Reset()
			return m, tea.Batch(m.spinner.Tick, tickCmd(), m.submit(input))
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.textArea.SetWidth(msg.Width - 3)
		headerHeight := 2
		footerHeight := 4
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - headerHeight - footerHeight
		m.refresh()

	case resultMsg:
		if !m.records.Settle(msg.recordID, msg.result) {
			logging.WithFields(logging.Fields{"record": msg.recordID}).Debug("ignoring result for settled record")
		}
		m.refresh()
		return m, nil

	case roundDoneMsg:
		m.running = false
		m.lastRound = msg.elapsed
		m.textArea.Focus()
		m.refresh()
		return m, nil

	case roundErrMsg:
		for _, rec := range msg.records {
			m.records.Settle(rec.ID, providers.Fail(rec.ModelID, msg.err))
		}
		m.err = msg.err
		m.running = false
		m.textArea.Focus()
		m.refresh()
		return m, nil

	case tickMsg:
		if m.running {
			m.refresh()
			return m, tickCmd()
		}
		return m, nil

	case spinner.TickMsg:
		if m.running {
			m.spinner, cmd = m.spinner.Update(msg)
			m.refresh()
			return m, cmd
		}
		return m, nil
	}

	key, isKey := msg.(tea.KeyMsg)
	scroll := isKey && (key.String() == "pgup" || key.String() == "pgdown")
	if !isKey || scroll {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	if !scroll && !m.running {
		m.textArea, cmd = m.textArea.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit records the user turn, opens one loading record per model, and returns the command
// that runs the round. Each settled slot is sent back as a resultMsg.
func (m *chatModel) submit(input string) tea.Cmd {
	m.records.AddUser(input)
	pending := m.records.Begin(m.session.Models)
	m.running = true
	m.err = nil
	m.roundStart = time.Now()
	m.textArea.Blur()
	m.refresh()

	req := m.session.Request(input)
	resolver := m.session.Resolver()
	send := m.send
	ctx := m.ctx

	return func() tea.Msg {
		h, err := m.session.Dispatcher.Incremental(ctx, resolver, req, func(u dispatch.Update) {
			send(resultMsg{recordID: pending[u.Slot].ID, result: u.Result})
		})
		if err != nil {
			return roundErrMsg{records: pending, err: err}
		}
		round := h.Round()
		return roundDoneMsg{elapsed: round.Elapsed()}
	}
}

// refresh re-renders the history into the viewport and keeps it scrolled to the bottom.
func (m *chatModel) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m *chatModel) renderHistory() string {
	width := m.width - 2
	if width < 20 {
		width = 80
	}
	var b strings.Builder
	for _, rec := range m.records.Records() {
		switch rec.Role {
		case tracker.RoleUser:
			b.WriteString(separatorStyle.Render(strings.Repeat("─", width)) + "\n")
			b.WriteString(userStyle.Render("You: ") + rec.Content + "\n\n")
		case tracker.RoleAssistant:
			b.WriteString(modelStyle.Render(rec.ModelID) + "\n")
			switch rec.State {
			case tracker.StateLoading:
				elapsed := time.Since(rec.CreatedAt).Round(time.Second)
				b.WriteString(fmt.Sprintf("%s Querying %s... %s\n\n", m.spinner.View(), rec.ModelID, elapsed))
			case tracker.StateError:
				b.WriteString(errorStyle.Render("Error: "+rec.ErrorMessage) + "\n\n")
			default:
				b.WriteString(lipgloss.NewStyle().Width(width).Render(rec.Content) + "\n")
				b.WriteString(statsStyle.Render(recordStats(rec)) + "\n\n")
			}
		}
	}
	return b.String()
}

func recordStats(rec tracker.Record) string {
	stats := fmt.Sprintf("%.1fs", rec.SettledAt.Sub(rec.CreatedAt).Seconds())
	if rec.Usage != nil && rec.Usage.TotalTokens > 0 {
		stats += fmt.Sprintf(" | %d tokens", rec.Usage.TotalTokens)
	}
	return stats
}

// View renders the header, history, and input line.
func (m *chatModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("chorus") + " " + strings.Join(m.session.Models, ", ") + "\n\n")
	b.WriteString(m.viewport.View() + "\n")

	switch {
	case m.running:
		pending := m.records.Pending()
		b.WriteString(fmt.Sprintf("%s %d of %d model(s) pending... %s\n", m.spinner.View(), pending, len(m.session.Models), time.Since(m.roundStart).Round(time.Second)))
	case m.err != nil:
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	case m.lastRound > 0:
		b.WriteString(statsStyle.Render(fmt.Sprintf("Last round settled in %.1fs", m.lastRound.Seconds())) + "\n")
	default:
		b.WriteString("\n")
	}

	b.WriteString(m.textArea.View() + "\n")
	b.WriteString(helpStyle.Render(" enter to send | ctrl+l to clear | esc to quit"))
	return b.String()
}

// StartGUI runs the chat screen for session and blocks until the user quits.
func StartGUI(ctx context.Context, session *chat.Session) error {
	m := initialModel(ctx, session)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	m.send = p.Send

	_, err := p.Run()
	return err
}
