package domain

import "fmt"

// ConnectedEdges returns the edges that start or end at any of nodes.
func ConnectedEdges(nodes []Node, edges []Edge) []Edge {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	out := []Edge{}
	for _, e := range edges {
		_, src := ids[e.Source]
		_, dst := ids[e.Target]
		if src || dst {
			out = append(out, e)
		}
	}
	return out
}

// Incomers returns the nodes with an edge into id.
func Incomers(id string, nodes []Node, edges []Edge) []Node {
	sources := map[string]struct{}{}
	for _, e := range edges {
		if e.Target == id {
			sources[e.Source] = struct{}{}
		}
	}
	return filterNodes(nodes, sources)
}

// Outgoers returns the nodes id has an edge into.
func Outgoers(id string, nodes []Node, edges []Edge) []Node {
	targets := map[string]struct{}{}
	for _, e := range edges {
		if e.Source == id {
			targets[e.Target] = struct{}{}
		}
	}
	return filterNodes(nodes, targets)
}

func filterNodes(nodes []Node, keep map[string]struct{}) []Node {
	out := []Node{}
	for _, n := range nodes {
		if _, ok := keep[n.ID]; ok {
			out = append(out, n)
		}
	}
	return out
}

func EdgeID(c Connection) string {
	return fmt.Sprintf("xy-edge__%s%s-%s%s", c.Source, c.SourceHandle, c.Target, c.TargetHandle)
}

func EdgeFromConnection(c Connection) Edge {
	return Edge{
		ID:           EdgeID(c),
		Source:       c.Source,
		Target:       c.Target,
		SourceHandle: c.SourceHandle,
		TargetHandle: c.TargetHandle,
	}
}

// AddEdge appends e unless an edge joining the same handles already exists. It reports
// whether the list changed. A missing id is derived from the endpoints.
func AddEdge(e Edge, edges []Edge) ([]Edge, bool) {
	if e.Source == "" || e.Target == "" {
		return edges, false
	}
	if e.ID == "" {
		e.ID = EdgeID(Connection{Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle, TargetHandle: e.TargetHandle})
	}
	for _, existing := range edges {
		if existing.Source == e.Source && existing.Target == e.Target &&
			existing.SourceHandle == e.SourceHandle && existing.TargetHandle == e.TargetHandle {
			return edges, false
		}
	}
	out := make([]Edge, 0, len(edges)+1)
	out = append(out, edges...)
	return append(out, e), true
}

// BridgeRemoved drops the edges of every deleted node and links each of its incomers
// to each of its outgoers, so removing b from a->b->c leaves a->c.
func BridgeRemoved(deleted []Node, nodes []Node, edges []Edge) []Edge {
	acc := append([]Edge(nil), edges...)
	for _, node := range deleted {
		incomers := Incomers(node.ID, nodes, acc)
		outgoers := Outgoers(node.ID, nodes, acc)
		remaining := make([]Edge, 0, len(acc))
		for _, e := range acc {
			if !e.Touches(node.ID) {
				remaining = append(remaining, e)
			}
		}
		for _, in := range incomers {
			for _, out := range outgoers {
				if in.ID == node.ID || out.ID == node.ID {
					continue
				}
				remaining, _ = AddEdge(Edge{ID: in.ID + "->" + out.ID, Source: in.ID, Target: out.ID}, remaining)
			}
		}
		acc = remaining
	}
	return acc
}
