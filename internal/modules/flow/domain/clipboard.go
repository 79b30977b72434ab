package domain

import "math"

// Clipboard holds copied nodes and the edges running between them.
type Clipboard struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (c Clipboard) Empty() bool { return len(c.Nodes) == 0 }

// Copy keeps the selected nodes and only the edges whose both ends are selected.
func Copy(nodes []Node, edges []Edge) Clipboard {
	selected := []Node{}
	for _, n := range nodes {
		if n.Selected {
			selected = append(selected, n)
		}
	}
	ids := make(map[string]struct{}, len(selected))
	for _, n := range selected {
		ids[n.ID] = struct{}{}
	}
	internal := []Edge{}
	for _, e := range ConnectedEdges(selected, edges) {
		_, src := ids[e.Source]
		_, dst := ids[e.Target]
		if src && dst {
			internal = append(internal, e)
		}
	}
	return Clipboard{Nodes: selected, Edges: internal}
}

// Cut copies like Copy and returns the collections without the cut elements.
func Cut(nodes []Node, edges []Edge) (Clipboard, []Node, []Edge) {
	clip := Copy(nodes, edges)
	cutEdges := make(map[string]struct{}, len(clip.Edges))
	for _, e := range clip.Edges {
		cutEdges[e.ID] = struct{}{}
	}
	restNodes := []Node{}
	for _, n := range nodes {
		if !n.Selected {
			restNodes = append(restNodes, n)
		}
	}
	restEdges := []Edge{}
	for _, e := range edges {
		if _, ok := cutEdges[e.ID]; !ok {
			restEdges = append(restEdges, e)
		}
	}
	return clip, restNodes, restEdges
}

// Paste appends copies of the clipboard with ids suffixed by suffix, laid out so the
// top-left of the copied group lands on at. Existing nodes are deselected.
func (c Clipboard) Paste(at XYPosition, suffix string, nodes []Node, edges []Edge) ([]Node, []Edge) {
	if c.Empty() {
		return nodes, edges
	}
	minX, minY := math.Inf(1), math.Inf(1)
	for _, n := range c.Nodes {
		minX = math.Min(minX, n.Position.X)
		minY = math.Min(minY, n.Position.Y)
	}
	origin := XYPosition{X: minX, Y: minY}

	nextNodes := make([]Node, 0, len(nodes)+len(c.Nodes))
	for _, n := range nodes {
		n.Selected = false
		nextNodes = append(nextNodes, n)
	}
	for _, n := range c.Nodes {
		n.ID = n.ID + "-" + suffix
		n.Position = at.Add(n.Position.Sub(origin))
		n.Data = n.Data.Clone()
		nextNodes = append(nextNodes, n)
	}

	nextEdges := make([]Edge, 0, len(edges)+len(c.Edges))
	nextEdges = append(nextEdges, edges...)
	for _, e := range c.Edges {
		e.ID = e.ID + "-" + suffix
		e.Source = e.Source + "-" + suffix
		e.Target = e.Target + "-" + suffix
		e.Data = e.Data.Clone()
		nextEdges = append(nextEdges, e)
	}
	return nextNodes, nextEdges
}
