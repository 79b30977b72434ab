package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"flowsync/internal/modules/flow/domain"
	"flowsync/internal/modules/flow/dto"
	flowin "flowsync/internal/modules/flow/port/in"
	"flowsync/internal/modules/flow/service"
	transportin "flowsync/internal/modules/transport/port/in"
	"flowsync/internal/platform/clock"
	apperrors "flowsync/internal/platform/errors"
)

type Options struct {
	Canvas service.CanvasOptions
	// NoWait skips waiting for the relay handshake. Used when nothing is listening or
	// when another holder of the room keeps its session synced.
	NoWait bool
	// PeerName is published through awareness while watching.
	PeerName string
}

type Interactor struct {
	sessions transportin.Sessions
	opts     Options
	clock    clock.Clock

	mu sync.Mutex
	// canvases held by running watches, by room
	live map[string]*service.Canvas
}

func NewInteractor(sessions transportin.Sessions, opts Options) flowin.Usecase {
	clk := opts.Canvas.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Interactor{sessions: sessions, opts: opts, clock: clk, live: map[string]*service.Canvas{}}
}

func (i *Interactor) open(ctx context.Context, room string) (*service.Canvas, error) {
	if strings.TrimSpace(room) == "" {
		return nil, fmt.Errorf("room is required: %w", apperrors.ErrInvalidInput)
	}
	c := service.OpenCanvas(i.sessions, room, i.opts.Canvas)
	if i.opts.NoWait {
		return c, nil
	}
	if err := c.Handle().WaitSynced(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("sync room %s: %w", room, err)
	}
	return c, nil
}

// canvas returns the watched canvas for room or, without a watch, a fresh one that
// done closes.
func (i *Interactor) canvas(ctx context.Context, room string) (c *service.Canvas, done func(), err error) {
	if live := i.watched(room); live != nil {
		return live, func() {}, nil
	}
	c, err = i.open(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

func (i *Interactor) watched(room string) *service.Canvas {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.live[room]
}

func (i *Interactor) mustWatch(room string) (*service.Canvas, error) {
	c := i.watched(room)
	if c == nil {
		return nil, fmt.Errorf("room %q is not being watched: %w", room, apperrors.ErrNotFound)
	}
	return c, nil
}

func (i *Interactor) Dump(ctx context.Context, room string) (dto.GraphOutput, error) {
	c, done, err := i.canvas(ctx, room)
	if err != nil {
		return dto.GraphOutput{}, err
	}
	defer done()
	return i.graph(c), nil
}

func (i *Interactor) AddNode(ctx context.Context, input flowin.AddNodeInput) (dto.NodeOutput, error) {
	node := domain.Node{ID: strings.TrimSpace(input.ID), Type: input.Type, Position: domain.XYPosition{X: input.X, Y: input.Y}}
	if input.Label != "" {
		if err := node.Data.Set("label", input.Label); err != nil {
			return dto.NodeOutput{}, err
		}
	}
	if err := node.Validate(); err != nil {
		return dto.NodeOutput{}, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}
	c, done, err := i.canvas(ctx, input.Room)
	if err != nil {
		return dto.NodeOutput{}, err
	}
	defer done()
	if err := c.Nodes.ApplyChanges([]domain.NodeChange{domain.AddNode(node)}); err != nil {
		return dto.NodeOutput{}, err
	}
	record(c, service.HistoryNodeAdd)
	return mapNode(node), nil
}

func (i *Interactor) MoveNode(ctx context.Context, input flowin.MoveNodeInput) (dto.NodeOutput, error) {
	c, done, err := i.canvas(ctx, input.Room)
	if err != nil {
		return dto.NodeOutput{}, err
	}
	defer done()
	if _, ok := domain.FindNode(c.Nodes.Snapshot(), input.ID); !ok {
		return dto.NodeOutput{}, fmt.Errorf("%s: %w", input.ID, domain.ErrNodeNotFound)
	}
	to := domain.XYPosition{X: input.X, Y: input.Y}
	if err := c.Nodes.ApplyChanges([]domain.NodeChange{domain.MoveNode(input.ID, to)}); err != nil {
		return dto.NodeOutput{}, err
	}
	record(c, service.HistoryNodeMove)
	moved, _ := domain.FindNode(c.Nodes.Snapshot(), input.ID)
	return mapNode(moved), nil
}

func (i *Interactor) RemoveNode(ctx context.Context, room, id string) (dto.RemoveNodeOutput, error) {
	c, done, err := i.canvas(ctx, room)
	if err != nil {
		return dto.RemoveNodeOutput{}, err
	}
	defer done()
	node, ok := domain.FindNode(c.Nodes.Snapshot(), id)
	if !ok {
		return dto.RemoveNodeOutput{}, fmt.Errorf("%s: %w", id, domain.ErrNodeNotFound)
	}
	connected := domain.ConnectedEdges([]domain.Node{node}, c.Edges.Snapshot())
	if err := c.Nodes.ApplyChanges([]domain.NodeChange{domain.RemoveNode(id)}); err != nil {
		return dto.RemoveNodeOutput{}, err
	}
	record(c, service.HistoryNodeDelete)
	out := dto.RemoveNodeOutput{NodeID: id, EdgesRemoved: []string{}}
	for _, e := range connected {
		out.EdgesRemoved = append(out.EdgesRemoved, e.ID)
	}
	return out, nil
}

func (i *Interactor) Connect(ctx context.Context, input flowin.ConnectInput) (dto.EdgeOutput, error) {
	conn := domain.Connection{
		Source:       strings.TrimSpace(input.Source),
		Target:       strings.TrimSpace(input.Target),
		SourceHandle: input.SourceHandle,
		TargetHandle: input.TargetHandle,
	}
	edge := domain.EdgeFromConnection(conn)
	if err := edge.Validate(); err != nil {
		return dto.EdgeOutput{}, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}
	c, done, err := i.canvas(ctx, input.Room)
	if err != nil {
		return dto.EdgeOutput{}, err
	}
	defer done()
	added, err := c.Edges.Connect(conn)
	if err != nil {
		return dto.EdgeOutput{}, err
	}
	if added {
		record(c, service.HistoryEdgeAdd)
	}
	return mapEdge(edge), nil
}

// Select marks exactly ids as selected and reports how many of them exist.
func (i *Interactor) Select(ctx context.Context, room string, ids []string) (int, error) {
	c, done, err := i.canvas(ctx, room)
	if err != nil {
		return 0, err
	}
	defer done()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	changes := []domain.NodeChange{}
	selected := 0
	for _, n := range c.Nodes.Snapshot() {
		_, on := want[n.ID]
		if on {
			selected++
		}
		if n.Selected != on {
			changes = append(changes, domain.NodeChange{Type: domain.ChangeSelect, ID: n.ID, Selected: on})
		}
	}
	if err := c.Nodes.ApplyChanges(changes); err != nil {
		return 0, err
	}
	return selected, nil
}

// RemoveBridged deletes ids and joins each one's incomers to its outgoers.
func (i *Interactor) RemoveBridged(ctx context.Context, room string, ids []string) (dto.BridgeOutput, error) {
	c, done, err := i.canvas(ctx, room)
	if err != nil {
		return dto.BridgeOutput{}, err
	}
	defer done()
	out := dto.BridgeOutput{Removed: []string{}, Bridges: []dto.EdgeOutput{}}
	nodes := c.Nodes.Snapshot()
	for _, id := range ids {
		if _, ok := domain.FindNode(nodes, id); !ok {
			return dto.BridgeOutput{}, fmt.Errorf("%s: %w", id, domain.ErrNodeNotFound)
		}
		out.Removed = append(out.Removed, id)
	}
	before := edgeSet(c.Edges.Snapshot())
	if err := c.Nodes.RemoveBridged(ids...); err != nil {
		return dto.BridgeOutput{}, err
	}
	record(c, service.HistoryNodeDelete)
	for _, e := range c.Edges.Snapshot() {
		if _, ok := before[e.ID]; !ok {
			out.Bridges = append(out.Bridges, mapEdge(e))
		}
	}
	return out, nil
}

func (i *Interactor) Undo(_ context.Context, room string) (dto.HistoryOutput, error) {
	c, err := i.mustWatch(room)
	if err != nil {
		return dto.HistoryOutput{}, err
	}
	applied, err := c.History.Undo()
	if err != nil {
		return dto.HistoryOutput{}, err
	}
	return historyOutput(c, applied), nil
}

func (i *Interactor) Redo(_ context.Context, room string) (dto.HistoryOutput, error) {
	c, err := i.mustWatch(room)
	if err != nil {
		return dto.HistoryOutput{}, err
	}
	applied, err := c.History.Redo()
	if err != nil {
		return dto.HistoryOutput{}, err
	}
	return historyOutput(c, applied), nil
}

func (i *Interactor) Copy(_ context.Context, room string) (dto.ClipboardOutput, error) {
	c, err := i.mustWatch(room)
	if err != nil {
		return dto.ClipboardOutput{}, err
	}
	clip := c.Copy()
	return clipboardOutput(clip.Nodes, clip.Edges), nil
}

func (i *Interactor) Cut(_ context.Context, room string) (dto.ClipboardOutput, error) {
	c, err := i.mustWatch(room)
	if err != nil {
		return dto.ClipboardOutput{}, err
	}
	clip, err := c.Cut()
	if err != nil {
		return dto.ClipboardOutput{}, err
	}
	c.History.Commit()
	return clipboardOutput(clip.Nodes, clip.Edges), nil
}

// Paste inserts the clipboard at the flow position and reports the new ids.
func (i *Interactor) Paste(_ context.Context, input flowin.PointInput) (dto.ClipboardOutput, error) {
	c, err := i.mustWatch(input.Room)
	if err != nil {
		return dto.ClipboardOutput{}, err
	}
	beforeNodes := make(map[string]struct{})
	for _, n := range c.Nodes.Snapshot() {
		beforeNodes[n.ID] = struct{}{}
	}
	beforeEdges := edgeSet(c.Edges.Snapshot())
	if err := c.Paste(domain.XYPosition{X: input.X, Y: input.Y}); err != nil {
		return dto.ClipboardOutput{}, err
	}
	c.History.Commit()
	var nodes []domain.Node
	for _, n := range c.Nodes.Snapshot() {
		if _, ok := beforeNodes[n.ID]; !ok {
			nodes = append(nodes, n)
		}
	}
	var edges []domain.Edge
	for _, e := range c.Edges.Snapshot() {
		if _, ok := beforeEdges[e.ID]; !ok {
			edges = append(edges, e)
		}
	}
	return clipboardOutput(nodes, edges), nil
}

// PointerMove publishes this viewer's cursor at a screen position.
func (i *Interactor) PointerMove(_ context.Context, input flowin.PointInput) (dto.CursorOutput, error) {
	c, err := i.mustWatch(input.Room)
	if err != nil {
		return dto.CursorOutput{}, err
	}
	if err := c.Cursors.PointerMove(domain.XYPosition{X: input.X, Y: input.Y}); err != nil {
		return dto.CursorOutput{}, err
	}
	cur, ok := c.Cursors.Local()
	if !ok {
		return dto.CursorOutput{}, fmt.Errorf("cursor for room %q: %w", input.Room, apperrors.ErrNotFound)
	}
	return dto.CursorOutput{ID: cur.ID, Color: cur.Color, X: cur.X, Y: cur.Y}, nil
}

func (i *Interactor) Watch(ctx context.Context, room string, fn func(dto.GraphOutput)) error {
	if strings.TrimSpace(room) == "" {
		return fmt.Errorf("room is required: %w", apperrors.ErrInvalidInput)
	}
	// No handshake wait: the watcher renders the offline state until the session connects.
	c := service.OpenCanvas(i.sessions, room, i.opts.Canvas)
	defer c.Close()
	i.mu.Lock()
	if _, taken := i.live[room]; !taken {
		i.live[room] = c
	}
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		if i.live[room] == c {
			delete(i.live, room)
		}
		i.mu.Unlock()
	}()
	if i.opts.PeerName != "" {
		if err := c.SetPeer(i.opts.PeerName); err != nil {
			return err
		}
	}

	changed := make(chan struct{}, 1)
	poke := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	defer c.Nodes.Subscribe(func([]domain.Node) { poke() })()
	defer c.Edges.Subscribe(func([]domain.Edge) { poke() })()
	defer c.Cursors.Subscribe(func([]domain.Cursor) { poke() })()
	defer c.OnConnectivity(func(bool) { poke() })()

	go c.Cursors.Run(ctx)
	fn(i.graph(c))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			fn(i.graph(c))
		case <-ticker.C:
			// cursor ages and peer presence move without document changes
			fn(i.graph(c))
		}
	}
}

func (i *Interactor) graph(c *service.Canvas) dto.GraphOutput {
	now := i.clock.Now()
	out := dto.GraphOutput{
		Room:      c.Room(),
		Connected: c.Connected(),
		Nodes:     make([]dto.NodeOutput, 0),
		Edges:     make([]dto.EdgeOutput, 0),
	}
	for _, n := range c.Nodes.Snapshot() {
		out.Nodes = append(out.Nodes, mapNode(n))
	}
	for _, e := range c.Edges.Snapshot() {
		out.Edges = append(out.Edges, mapEdge(e))
	}
	for _, cur := range c.Cursors.Remote() {
		out.Cursors = append(out.Cursors, dto.CursorOutput{
			ID:    cur.ID,
			Color: cur.Color,
			X:     cur.X,
			Y:     cur.Y,
			AgeMS: now.UnixMilli() - cur.Timestamp,
		})
	}
	for _, p := range c.Peers() {
		out.Peers = append(out.Peers, dto.PeerOutput{Client: p.Client, Name: p.Name, Color: p.Color})
	}
	return out
}

// record gives a discrete command its own history entry; the debounce only merges
// bursts such as drags.
func record(c *service.Canvas, event service.HistoryEvent) {
	c.History.Record(event)
	c.History.Commit()
}

func historyOutput(c *service.Canvas, applied bool) dto.HistoryOutput {
	return dto.HistoryOutput{Applied: applied, CanUndo: c.History.CanUndo(), CanRedo: c.History.CanRedo()}
}

func clipboardOutput(nodes []domain.Node, edges []domain.Edge) dto.ClipboardOutput {
	out := dto.ClipboardOutput{Nodes: []string{}, Edges: []string{}}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, n.ID)
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, e.ID)
	}
	return out
}

func edgeSet(edges []domain.Edge) map[string]struct{} {
	out := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		out[e.ID] = struct{}{}
	}
	return out
}

func mapNode(n domain.Node) dto.NodeOutput {
	return dto.NodeOutput{
		ID:       n.ID,
		Type:     n.Type,
		Label:    n.Data.Label(),
		X:        n.Position.X,
		Y:        n.Position.Y,
		ParentID: n.ParentID,
	}
}

func mapEdge(e domain.Edge) dto.EdgeOutput {
	return dto.EdgeOutput{ID: e.ID, Source: e.Source, Target: e.Target, Label: e.Label}
}
