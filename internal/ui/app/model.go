package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	flowdto "flowsync/internal/modules/flow/dto"
	"flowsync/internal/ui/components"
	"flowsync/internal/ui/theme"
	roomview "flowsync/internal/ui/views/room"
)

const editTimeout = 5 * time.Second

// ─── ports ───────────────────────────────────────────────────────────────────

type editPort interface {
	AddNode(ctx context.Context, room, id, nodeType, label string, x, y float64) (flowdto.NodeOutput, error)
	MoveNode(ctx context.Context, room, id string, x, y float64) (flowdto.NodeOutput, error)
	RemoveNode(ctx context.Context, room, id string) (flowdto.RemoveNodeOutput, error)
	Connect(ctx context.Context, room, source, target string) (flowdto.EdgeOutput, error)
	Select(ctx context.Context, room string, ids []string) (int, error)
	RemoveBridged(ctx context.Context, room string, ids []string) (flowdto.BridgeOutput, error)
	Undo(ctx context.Context, room string) (flowdto.HistoryOutput, error)
	Redo(ctx context.Context, room string) (flowdto.HistoryOutput, error)
	Copy(ctx context.Context, room string) (flowdto.ClipboardOutput, error)
	Cut(ctx context.Context, room string) (flowdto.ClipboardOutput, error)
	Paste(ctx context.Context, room string, x, y float64) (flowdto.ClipboardOutput, error)
	PointerMove(ctx context.Context, room string, x, y float64) (flowdto.CursorOutput, error)
}

// hints must stay in sync with the switch in executePalette.
var paletteHints = []string{
	"add <id> <x> <y> [label]",
	"move <id> <x> <y>",
	"rm <id>",
	"connect <source> <target>",
	"rm-bridge <id>...",
	"select <id>...",
	"copy",
	"cut",
	"paste <x> <y>",
	"undo",
	"redo",
	"cursor <x> <y>",
}

// ─── async messages ───────────────────────────────────────────────────────────

type editDoneMsg struct {
	status string
	err    error
}

// ─── key bindings ─────────────────────────────────────────────────────────────

type keyMap struct {
	Help    key.Binding
	Palette key.Binding
	Quit    key.Binding
	Scroll  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Palette: key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "edit")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
		Scroll:  key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "scroll")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Palette, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Palette, k.Scroll},
		{k.Help, k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model for watching one room. Rendering of the room is
// delegated to the room view; edits typed in the palette go through the edit port.
type Model struct {
	room string
	edit editPort

	view     roomview.Model
	keys     keyMap
	help     help.Model
	showHelp bool
	palette  components.Palette
	status   string
	width    int
	height   int
}

func NewModel(room string, watch roomview.WatchPort, edit editPort) Model {
	return Model{
		room:    room,
		edit:    edit,
		view:    roomview.New(room, watch),
		keys:    defaultKeys(),
		help:    help.New(),
		palette: components.NewPalette(paletteHints),
		status:  "ready",
	}
}

func (m Model) Init() tea.Cmd {
	return m.view.Init()
}

// ─── update ───────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// The palette intercepts all input while open.
	if m.palette.Visible() {
		var cmd tea.Cmd
		m.palette, cmd = m.palette.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.palette.SetWidth(min(m.width-4, 80))
		m.help.Width = m.width
		return m.updateView(tea.WindowSizeMsg{Width: msg.Width, Height: max(msg.Height-2, 0)})

	case editDoneMsg:
		if msg.err != nil {
			m.status = "edit failed: " + msg.err.Error()
		} else {
			m.status = msg.status
		}
		return m, nil

	case components.PaletteSubmitMsg:
		return m.executePalette(msg.Input)

	case components.PaletteCancelMsg:
		m.status = "ready"
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.view.Stop()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, m.keys.Palette):
			return m, m.palette.Open()
		}
	}
	return m.updateView(msg)
}

func (m Model) updateView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	footer := theme.Muted.Render(m.status)
	if m.showHelp {
		footer = m.help.FullHelpView(m.keys.FullHelp())
	} else {
		footer = lipgloss.JoinHorizontal(lipgloss.Top, footer, "  ", m.help.ShortHelpView(m.keys.ShortHelp()))
	}
	body := m.view.View()
	if m.palette.Visible() {
		body = lipgloss.Place(m.width, max(m.height-2, 0), lipgloss.Center, lipgloss.Center, m.palette.View())
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

// ─── palette ─────────────────────────────────────────────────────────────────

func (m Model) executePalette(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		m.status = "ready"
		return m, nil
	}
	if m.edit == nil {
		m.status = "editing is not available"
		return m, nil
	}
	room := m.room
	switch fields[0] {
	case "add":
		if len(fields) < 4 {
			m.status = "usage: add <id> <x> <y> [label]"
			return m, nil
		}
		x, y, err := parsePoint(fields[2], fields[3])
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		id, label := fields[1], strings.Join(fields[4:], " ")
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			n, err := m.edit.AddNode(ctx, room, id, "", label, x, y)
			return "added " + n.ID, err
		})
	case "move":
		if len(fields) != 4 {
			m.status = "usage: move <id> <x> <y>"
			return m, nil
		}
		x, y, err := parsePoint(fields[2], fields[3])
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		id := fields[1]
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			n, err := m.edit.MoveNode(ctx, room, id, x, y)
			return fmt.Sprintf("moved %s to %.0f,%.0f", n.ID, n.X, n.Y), err
		})
	case "rm":
		if len(fields) != 2 {
			m.status = "usage: rm <id>"
			return m, nil
		}
		id := fields[1]
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			out, err := m.edit.RemoveNode(ctx, room, id)
			return fmt.Sprintf("removed %s and %d edges", out.NodeID, len(out.EdgesRemoved)), err
		})
	case "connect":
		if len(fields) != 3 {
			m.status = "usage: connect <source> <target>"
			return m, nil
		}
		source, target := fields[1], fields[2]
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			e, err := m.edit.Connect(ctx, room, source, target)
			return "connected " + e.ID, err
		})
	case "rm-bridge":
		if len(fields) < 2 {
			m.status = "usage: rm-bridge <id>..."
			return m, nil
		}
		ids := fields[1:]
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			out, err := m.edit.RemoveBridged(ctx, room, ids)
			return fmt.Sprintf("removed %s, %d bridging edges", strings.Join(out.Removed, ","), len(out.Bridges)), err
		})
	case "select":
		ids := fields[1:]
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			n, err := m.edit.Select(ctx, room, ids)
			return fmt.Sprintf("%d selected", n), err
		})
	case "copy", "cut":
		if len(fields) != 1 {
			m.status = "usage: " + fields[0]
			return m, nil
		}
		cut := fields[0] == "cut"
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			var out flowdto.ClipboardOutput
			var err error
			verb := "copied"
			if cut {
				out, err = m.edit.Cut(ctx, room)
				verb = "cut"
			} else {
				out, err = m.edit.Copy(ctx, room)
			}
			return fmt.Sprintf("%s %d nodes, %d edges", verb, len(out.Nodes), len(out.Edges)), err
		})
	case "paste":
		if len(fields) != 3 {
			m.status = "usage: paste <x> <y>"
			return m, nil
		}
		x, y, err := parsePoint(fields[1], fields[2])
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			out, err := m.edit.Paste(ctx, room, x, y)
			if err == nil && len(out.Nodes) == 0 {
				return "clipboard is empty", nil
			}
			return fmt.Sprintf("pasted %d nodes", len(out.Nodes)), err
		})
	case "undo", "redo":
		if len(fields) != 1 {
			m.status = "usage: " + fields[0]
			return m, nil
		}
		redo := fields[0] == "redo"
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			var out flowdto.HistoryOutput
			var err error
			if redo {
				out, err = m.edit.Redo(ctx, room)
			} else {
				out, err = m.edit.Undo(ctx, room)
			}
			switch {
			case err != nil:
				return "", err
			case !out.Applied && redo:
				return "nothing to redo", nil
			case !out.Applied:
				return "nothing to undo", nil
			case redo:
				return "redone", nil
			}
			return "undone", nil
		})
	case "cursor":
		if len(fields) != 3 {
			m.status = "usage: cursor <x> <y>"
			return m, nil
		}
		x, y, err := parsePoint(fields[1], fields[2])
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		return m, m.editCmd(func(ctx context.Context) (string, error) {
			c, err := m.edit.PointerMove(ctx, room, x, y)
			return fmt.Sprintf("cursor at %.0f,%.0f", c.X, c.Y), err
		})
	default:
		m.status = "unknown command: " + fields[0]
		return m, nil
	}
}

func (m Model) editCmd(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), editTimeout)
		defer cancel()
		status, err := fn(ctx)
		return editDoneMsg{status: status, err: err}
	}
}

func parsePoint(rawX, rawY string) (float64, float64, error) {
	x, err := strconv.ParseFloat(rawX, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("x must be a number: %q", rawX)
	}
	y, err := strconv.ParseFloat(rawY, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("y must be a number: %q", rawY)
	}
	return x, y, nil
}
