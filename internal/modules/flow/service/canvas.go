package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/modules/flow/domain"
	flowout "flowsync/internal/modules/flow/port/out"
	transportin "flowsync/internal/modules/transport/port/in"
	"flowsync/internal/platform/clock"
	"flowsync/internal/platform/id"
	"flowsync/internal/platform/logging"
)

type CanvasOptions struct {
	Viewport        flowout.Viewport
	Clock           clock.Clock
	IDs             id.Generator
	CursorIdle      time.Duration
	HistoryDebounce time.Duration
	HistoryDepth    int
	Logger          logging.Logger
}

// Canvas is everything one editor view needs for a room. Nodes, edges and cursors each
// hold their own Room handle, the way independently mounted views would, so the
// underlying session is acquired three times and released three times.
type Canvas struct {
	Nodes   *Nodes
	Edges   *Edges
	Cursors *CursorTracker
	History *History

	room        string
	ids         id.Generator
	nodesRoom   *Room
	edgesRoom   *Room
	cursorsRoom *Room

	mu        sync.Mutex
	clipboard domain.Clipboard
	closed    bool
}

func OpenCanvas(sessions transportin.Sessions, room string, opts CanvasOptions) *Canvas {
	if opts.IDs == nil {
		opts.IDs = id.NewULID()
	}
	c := &Canvas{
		Nodes:   NewNodes(opts.Logger),
		Edges:   NewEdges(opts.Logger),
		Cursors: NewCursorTracker(opts.Viewport, opts.Clock, opts.CursorIdle, opts.Logger),
		room:    room,
		ids:     opts.IDs,
	}
	c.nodesRoom = OpenRoom(sessions, room)
	c.Nodes.Bind(c.nodesRoom.Doc())
	c.edgesRoom = OpenRoom(sessions, room)
	c.Edges.Bind(c.edgesRoom.Doc())
	c.cursorsRoom = OpenRoom(sessions, room)
	c.Cursors.Bind(c.cursorsRoom.Doc())
	c.History = NewHistory(c.Nodes, c.Edges, opts.HistoryDebounce, opts.HistoryDepth)
	return c
}

func (c *Canvas) Room() string { return c.room }

// Handle exposes the connectivity of the canvas's primary room handle.
func (c *Canvas) Handle() *Room { return c.nodesRoom }

func (c *Canvas) Connected() bool { return c.nodesRoom.Connected() }

func (c *Canvas) OnConnectivity(fn func(bool)) (cancel func()) {
	return c.nodesRoom.OnConnectivity(fn)
}

// Copy buffers the selected nodes and the edges between them.
func (c *Canvas) Copy() domain.Clipboard {
	clip := domain.Copy(c.Nodes.Snapshot(), c.Edges.Snapshot())
	c.mu.Lock()
	c.clipboard = clip
	c.mu.Unlock()
	return clip
}

// Cut buffers like Copy and removes the selected nodes from the room, together with
// every edge touching them.
func (c *Canvas) Cut() (domain.Clipboard, error) {
	var clip domain.Clipboard
	err := c.transact(func(nodes []domain.Node, edges []domain.Edge) ([]domain.Node, []domain.Edge) {
		var restNodes []domain.Node
		var restEdges []domain.Edge
		clip, restNodes, restEdges = domain.Cut(nodes, edges)
		dangling := domain.ConnectedEdges(clip.Nodes, restEdges)
		if len(dangling) == 0 {
			return restNodes, restEdges
		}
		drop := make(map[string]struct{}, len(dangling))
		for _, e := range dangling {
			drop[e.ID] = struct{}{}
		}
		kept := make([]domain.Edge, 0, len(restEdges))
		for _, e := range restEdges {
			if _, ok := drop[e.ID]; !ok {
				kept = append(kept, e)
			}
		}
		return restNodes, kept
	})
	if err != nil {
		return domain.Clipboard{}, err
	}
	c.mu.Lock()
	c.clipboard = clip
	c.mu.Unlock()
	c.History.Record(HistoryNodeDelete)
	return clip, nil
}

// Paste inserts the buffered elements with fresh ids, top-left at the flow position at.
func (c *Canvas) Paste(at domain.XYPosition) error {
	c.mu.Lock()
	clip := c.clipboard
	c.mu.Unlock()
	if clip.Empty() {
		return nil
	}
	suffix := c.ids.New()
	err := c.transact(func(nodes []domain.Node, edges []domain.Edge) ([]domain.Node, []domain.Edge) {
		return clip.Paste(at, suffix, nodes, edges)
	})
	if err != nil {
		return err
	}
	c.History.Record(HistoryPaste)
	return nil
}

func (c *Canvas) Clipboard() domain.Clipboard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clipboard
}

// transact rewrites both collections from their current shared contents in one
// transaction.
func (c *Canvas) transact(fn func([]domain.Node, []domain.Edge) ([]domain.Node, []domain.Edge)) error {
	doc := c.Nodes.Doc()
	if doc == nil {
		return nil
	}
	var err error
	doc.Transact(c.Nodes.Collection, func(tx *docdomain.Transaction) {
		nm := tx.Map(domain.MapNodes)
		em := tx.Map(domain.MapEdges)
		curNodes, curEdges := c.Nodes.decode(nm.Entries()), decodeEdges(em.Entries())
		nodes, edges := fn(curNodes, curEdges)
		if err = writeAll(nm, curNodes, nodes); err != nil {
			return
		}
		err = writeAll(em, curEdges, edges)
	})
	return err
}

// SetPeer publishes this user's name through awareness, colored like their cursor.
func (c *Canvas) SetPeer(name string) error {
	aw := c.cursorsRoom.Awareness()
	if aw == nil {
		return nil
	}
	color := domain.ColorFor(domain.CursorID(uint64(aw.ClientID())))
	if err := aw.SetLocalState(domain.Peer{Name: name, Color: color}); err != nil {
		return fmt.Errorf("publish peer: %w", err)
	}
	return nil
}

// Peers lists the user states other clients published, by client id.
func (c *Canvas) Peers() []PeerState {
	aw := c.cursorsRoom.Awareness()
	if aw == nil {
		return nil
	}
	self := aw.ClientID()
	out := []PeerState{}
	for client, raw := range aw.States() {
		if client == self {
			continue
		}
		var p domain.Peer
		if err := json.Unmarshal(raw, &p); err != nil || p.Name == "" {
			continue
		}
		out = append(out, PeerState{Client: domain.CursorID(uint64(client)), Peer: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Client < out[j].Client })
	return out
}

type PeerState struct {
	Client string
	domain.Peer
}

// Close detaches every adapter and releases the three room handles.
func (c *Canvas) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.History.Close()
	c.Cursors.Unbind()
	c.Edges.Unbind()
	c.Nodes.Unbind()
	c.cursorsRoom.Close()
	c.edgesRoom.Close()
	c.nodesRoom.Close()
}
