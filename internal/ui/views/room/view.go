package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	flowdto "flowsync/internal/modules/flow/dto"
	"flowsync/internal/ui/theme"
)

// ─── port ────────────────────────────────────────────────────────────────────

type WatchPort interface {
	Watch(ctx context.Context, room string, fn func(flowdto.GraphOutput)) error
}

// ─── messages ────────────────────────────────────────────────────────────────

type GraphMsg struct {
	Out flowdto.GraphOutput
}

type WatchEndedMsg struct {
	Err error
}

// ─── model ───────────────────────────────────────────────────────────────────

type Model struct {
	room    string
	port    WatchPort
	ctx     context.Context
	cancel  context.CancelFunc
	updates chan flowdto.GraphOutput
	ended   chan error

	graph    flowdto.GraphOutput
	received bool
	err      error
	detail   viewport.Model
	spinner  spinner.Model
	width    int
	height   int
}

func New(room string, port WatchPort) Model {
	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().
		Background(theme.Mantle).
		Foreground(theme.Text).
		Padding(0, 1)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Peach)

	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		room:    room,
		port:    port,
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan flowdto.GraphOutput, 1),
		ended:   make(chan error, 1),
		detail:  vp,
		spinner: sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), m.listenCmd(), m.spinner.Tick)
}

// Stop ends the watch; the pending listen command then reports WatchEndedMsg.
func (m Model) Stop() {
	m.cancel()
}

func (m Model) Room() string { return m.room }

func (m Model) Graph() flowdto.GraphOutput { return m.graph }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case GraphMsg:
		m.graph = msg.Out
		m.received = true
		m.detail.SetContent(m.renderGraph())
		cmds = append(cmds, m.listenCmd())

	case WatchEndedMsg:
		m.err = msg.Err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var vCmd tea.Cmd
	m.detail, vCmd = m.detail.Update(msg)
	cmds = append(cmds, vCmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.received && m.err == nil {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			m.spinner.View()+" Joining "+m.room+"…")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		theme.Title.Render("room "+m.room),
		"  ",
		m.statusBadge(),
	)
	body := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.Surface1).
		Background(theme.Mantle).
		Width(max(m.width-2, 0)).
		Height(max(m.height-3, 0)).
		Render(m.detail.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

// ─── private ─────────────────────────────────────────────────────────────────

func (m *Model) resize() {
	m.detail.Width = max(m.width-4, 0)
	m.detail.Height = max(m.height-5, 0)
}

func (m Model) statusBadge() string {
	switch {
	case m.err != nil:
		return theme.Hot.Render("watch ended: " + m.err.Error())
	case m.graph.Connected:
		return lipgloss.NewStyle().Foreground(theme.Green).Render("● live")
	default:
		return m.spinner.View() + theme.Muted.Render(" offline, edits stay local")
	}
}

func (m Model) renderGraph() string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render(fmt.Sprintf("Nodes (%d)", len(m.graph.Nodes))) + "\n")
	if len(m.graph.Nodes) == 0 {
		sb.WriteString(theme.Muted.Render("  empty canvas") + "\n")
	}
	for _, n := range m.graph.Nodes {
		label := n.Label
		if label == "" {
			label = n.ID
		}
		sb.WriteString(fmt.Sprintf(" ◇ %s  %s\n",
			label,
			theme.Muted.Render(fmt.Sprintf("[%s @ %.0f,%.0f]", n.ID, n.X, n.Y))))
	}

	sb.WriteString("\n" + theme.Title.Render(fmt.Sprintf("Edges (%d)", len(m.graph.Edges))) + "\n")
	for _, e := range m.graph.Edges {
		sb.WriteString(fmt.Sprintf(" %s → %s  %s\n", e.Source, e.Target, theme.Muted.Render(e.ID)))
	}

	if len(m.graph.Peers) > 0 || len(m.graph.Cursors) > 0 {
		sb.WriteString("\n" + theme.Title.Render("Collaborators") + "\n")
	}
	for _, p := range m.graph.Peers {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Color)).Render("●")
		sb.WriteString(fmt.Sprintf(" %s %s\n", dot, p.Name))
	}
	for _, c := range m.graph.Cursors {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(c.Color)).Render("▲")
		sb.WriteString(fmt.Sprintf(" %s cursor %s at %.0f,%.0f %s\n",
			dot, c.ID, c.X, c.Y, theme.Muted.Render(fmt.Sprintf("(%ds ago)", c.AgeMS/1000))))
	}
	return sb.String()
}

func (m Model) startCmd() tea.Cmd {
	return func() tea.Msg {
		if m.port == nil {
			m.ended <- nil
			close(m.updates)
			return nil
		}
		go func() {
			err := m.port.Watch(m.ctx, m.room, m.publish)
			m.ended <- err
			close(m.updates)
		}()
		return nil
	}
}

// publish keeps only the newest state when the UI falls behind.
func (m Model) publish(out flowdto.GraphOutput) {
	select {
	case m.updates <- out:
		return
	default:
	}
	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- out:
	default:
	}
}

func (m Model) listenCmd() tea.Cmd {
	return func() tea.Msg {
		out, ok := <-m.updates
		if !ok {
			return WatchEndedMsg{Err: <-m.ended}
		}
		return GraphMsg{Out: out}
	}
}
