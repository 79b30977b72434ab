package room_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	flowdto "flowsync/internal/modules/flow/dto"
	"flowsync/internal/ui/views/room"
)

type fakeWatch struct {
	states []flowdto.GraphOutput
	err    error
}

func (f fakeWatch) Watch(_ context.Context, _ string, fn func(flowdto.GraphOutput)) error {
	for _, s := range f.states {
		fn(s)
	}
	return f.err
}

func TestViewRendersGraphAndEnd(t *testing.T) {
	t.Parallel()
	port := fakeWatch{
		states: []flowdto.GraphOutput{{
			Room:      "demo",
			Connected: true,
			Nodes:     []flowdto.NodeOutput{{ID: "a", Label: "Start", X: 10, Y: 20}},
			Edges:     []flowdto.EdgeOutput{{ID: "e", Source: "a", Target: "b"}},
			Peers:     []flowdto.PeerOutput{{Client: "7", Name: "ana", Color: "#ff0000"}},
		}},
		err: errors.New("relay gone"),
	}
	m := room.New("demo", port)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	batch, ok := m.Init()().(tea.BatchMsg)
	if !ok {
		t.Fatalf("init should batch its commands")
	}
	var follow tea.Cmd
	for _, cmd := range batch {
		if cmd == nil {
			continue
		}
		if msg := cmd(); msg != nil {
			var next tea.Cmd
			m, next = m.Update(msg)
			if _, isGraph := msg.(room.GraphMsg); isGraph {
				follow = next
			}
		}
	}
	if !strings.Contains(m.View(), "Start") || !strings.Contains(m.View(), "live") {
		t.Fatalf("graph not rendered:\n%s", m.View())
	}
	if got := m.Graph(); len(got.Nodes) != 1 || got.Room != "demo" {
		t.Fatalf("unexpected graph: %+v", got)
	}

	// the follow-up listen sees the closed stream
	for _, msg := range drain(follow) {
		m, _ = m.Update(msg)
	}
	if !strings.Contains(m.View(), "relay gone") {
		t.Fatalf("end of watch not shown:\n%s", m.View())
	}
}

func TestOfflineBadge(t *testing.T) {
	t.Parallel()
	m := room.New("demo", nil)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	if !strings.Contains(m.View(), "Joining demo") {
		t.Fatalf("expected joining placeholder:\n%s", m.View())
	}
	m, _ = m.Update(room.GraphMsg{Out: flowdto.GraphOutput{Room: "demo"}})
	if !strings.Contains(m.View(), "offline") || !strings.Contains(m.View(), "empty canvas") {
		t.Fatalf("expected offline rendering:\n%s", m.View())
	}
}

// drain runs cmd and any batched commands it returns, keeping only watch messages.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	switch msg := msg.(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, drain(c)...)
		}
		return out
	case room.GraphMsg, room.WatchEndedMsg:
		return []tea.Msg{msg}
	}
	return nil
}
